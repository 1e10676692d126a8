// Package render draws a position as a PNG board image.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"

	"github.com/park285/matey-server/internal/board"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultSquareSize = 64
	minSquareSize     = 16
	maxSquareSize     = 160
)

// Options controls one rendering.
type Options struct {
	SquareSize int
	// Flip draws the board from Black's side.
	Flip bool
	// LastMove is highlighted when set and both squares parse.
	LastMove *board.Move
}

// Renderer caches rasterized piece glyphs; safe for concurrent use.
type Renderer struct {
	pieces *pieceCache
}

func New() *Renderer {
	return &Renderer{pieces: newPieceCache()}
}

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	frameColor          = color.RGBA{40, 44, 60, 255}
	whiteMoveFill       = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveArrow      = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// PNG renders fen. Only the board field and side-to-move are required.
func (r *Renderer) PNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	pos, err := board.Decode(fen)
	if err != nil {
		return nil, err
	}
	img, err := r.Image(ctx, pos, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Image renders pos into an RGBA image with a coordinate margin.
func (r *Renderer) Image(ctx context.Context, pos *board.Position, opts Options) (*image.RGBA, error) {
	sq := opts.SquareSize
	if sq <= 0 {
		sq = DefaultSquareSize
	}
	if sq < minSquareSize {
		sq = minSquareSize
	}
	if sq > maxSquareSize {
		sq = maxSquareSize
	}
	margin := sq / 2
	size := sq*8 + margin*2
	origin := image.Point{X: margin, Y: margin}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	g := geometry{square: sq, origin: origin, flip: opts.Flip}
	drawSquares(img, g)
	drawHighlight(img, pos, opts.LastMove, g)
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			p := pos.Grid[rank][file]
			if p == 0 || p == ' ' {
				continue
			}
			glyph, err := r.pieces.get(p, sq)
			if err != nil {
				return nil, err
			}
			imagedraw.Draw(img, g.rect(file, rank), glyph, image.Point{}, imagedraw.Over)
		}
	}
	drawCoordinates(img, g, margin)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

type geometry struct {
	square int
	origin image.Point
	flip   bool
}

// cell maps board coordinates to screen row/column.
func (g geometry) cell(file, rank int) (col, row int) {
	if g.flip {
		return 7 - file, rank
	}
	return file, 7 - rank
}

func (g geometry) rect(file, rank int) image.Rectangle {
	col, row := g.cell(file, rank)
	x := g.origin.X + col*g.square
	y := g.origin.Y + row*g.square
	return image.Rect(x, y, x+g.square, y+g.square)
}

func (g geometry) center(file, rank int) pointF {
	r := g.rect(file, rank)
	return pointF{X: float64(r.Min.X) + float64(g.square)/2, Y: float64(r.Min.Y) + float64(g.square)/2}
}

func drawSquares(img *image.RGBA, g geometry) {
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			clr := lightSquare
			if (file+rank)%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(img, g.rect(file, rank), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

// drawHighlight shades both squares of a White move and draws an arrow for a Black move.
func drawHighlight(img *image.RGBA, pos *board.Position, m *board.Move, g geometry) {
	if m == nil {
		return
	}
	ff, fr, err := board.ParseSquare(m.From)
	if err != nil {
		return
	}
	tf, tr, err := board.ParseSquare(m.To)
	if err != nil || (ff == tf && fr == tr) {
		return
	}
	piece := pos.Grid[tr][tf]
	if piece == 0 || piece == ' ' {
		piece = pos.Grid[fr][ff]
	}
	if piece >= 'a' && piece <= 'z' {
		drawArrow(img, g.center(ff, fr), g.center(tf, tr), g.square, blackMoveArrow)
		return
	}
	imagedraw.Draw(img, g.rect(ff, fr), image.NewUniform(whiteMoveFill), image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, g.rect(tf, tr), image.NewUniform(whiteMoveFill), image.Point{}, imagedraw.Over)
}

func drawCoordinates(img *image.RGBA, g geometry, margin int) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		fileRect := g.rect(i, 0)
		drawCenteredText(drawer, string(rune('a'+i)), fileRect.Min.X+g.square/2, g.origin.Y+8*g.square+(margin+ascent)/2)
		rankRect := g.rect(0, i)
		drawCenteredText(drawer, string(rune('1'+i)), margin/2, rankRect.Min.Y+(g.square+ascent)/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

type pointF struct {
	X float64
	Y float64
}

func drawArrow(img *image.RGBA, start, end pointF, squareSize int, clr color.Color) {
	dx, dy := end.X-start.X, end.Y-start.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	dirX, dirY := dx/length, dy/length
	perpX, perpY := -dirY, dirX

	baseLength := length - float64(squareSize)*0.45
	if baseLength < float64(squareSize)*0.35 {
		baseLength = length * 0.6
	}
	halfWidth := float64(squareSize) * 0.18
	headWidth := float64(squareSize) * 0.32
	baseX := start.X + dirX*baseLength
	baseY := start.Y + dirY*baseLength

	fillQuad(img,
		pointF{start.X - perpX*halfWidth, start.Y - perpY*halfWidth},
		pointF{start.X + perpX*halfWidth, start.Y + perpY*halfWidth},
		pointF{baseX + perpX*halfWidth, baseY + perpY*halfWidth},
		pointF{baseX - perpX*halfWidth, baseY - perpY*halfWidth},
		clr)
	fillTriangle(img,
		end,
		pointF{baseX - perpX*headWidth/2, baseY - perpY*headWidth/2},
		pointF{baseX + perpX*headWidth/2, baseY + perpY*headWidth/2},
		clr)
}

func fillQuad(img *image.RGBA, p0, p1, p2, p3 pointF, clr color.Color) {
	fillTriangle(img, p0, p1, p2, clr)
	fillTriangle(img, p0, p2, p3, clr)
}

func fillTriangle(img *image.RGBA, a, b, c pointF, clr color.Color) {
	minX := int(math.Floor(math.Min(a.X, math.Min(b.X, c.X))))
	maxX := int(math.Ceil(math.Max(a.X, math.Max(b.X, c.X))))
	minY := int(math.Floor(math.Min(a.Y, math.Min(b.Y, c.Y))))
	maxY := int(math.Ceil(math.Max(a.Y, math.Max(b.Y, c.Y))))
	src := image.NewUniform(clr)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if inTriangle(float64(x)+0.5, float64(y)+0.5, a, b, c) {
				imagedraw.Draw(img, image.Rect(x, y, x+1, y+1), src, image.Point{}, imagedraw.Over)
			}
		}
	}
}

func inTriangle(x, y float64, a, b, c pointF) bool {
	denom := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if denom == 0 {
		return false
	}
	alpha := ((b.Y-c.Y)*(x-c.X) + (c.X-b.X)*(y-c.Y)) / denom
	beta := ((c.Y-a.Y)*(x-c.X) + (a.X-c.X)*(y-c.Y)) / denom
	return alpha >= 0 && beta >= 0 && 1-alpha-beta >= 0
}

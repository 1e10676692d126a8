// Package server exposes the lobby over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/park285/matey-server/internal/board"
	"github.com/park285/matey-server/internal/game"
	"github.com/park285/matey-server/internal/lobby"
	"github.com/park285/matey-server/internal/obslog"
	"github.com/park285/matey-server/internal/render"
	"github.com/park285/matey-server/internal/store/sqlstore"
	"go.uber.org/zap"
)

// GameReader loads an active game for the board image.
type GameReader interface {
	Get(ctx context.Context, gameID string) (*game.Session, error)
}

// ResultLister serves the archive route.
type ResultLister interface {
	RecentResults(ctx context.Context, userID string, limit int) ([]sqlstore.Result, error)
}

// UserWriter records the names of connecting users.
type UserWriter interface {
	PutUser(ctx context.Context, id, username string) error
}

// Check is a named readiness check for /healthz.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

type Deps struct {
	Lobby          *lobby.Lobby
	Games          GameReader
	Hub            *Hub
	Auth           *Authenticator
	Renderer       *render.Renderer
	Results        ResultLister
	Users          UserWriter
	Checks         []Check
	AllowedOrigins []string
}

type Server struct {
	r        *chi.Mux
	lobby    *lobby.Lobby
	games    GameReader
	hub      *Hub
	auth     *Authenticator
	renderer *render.Renderer
	results  ResultLister
	users    UserWriter
	checks   []Check
	origins  []string
}

func New(d Deps) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		lobby:    d.Lobby,
		games:    d.Games,
		hub:      d.Hub,
		auth:     d.Auth,
		renderer: d.Renderer,
		results:  d.Results,
		users:    d.Users,
		checks:   d.Checks,
		origins:  d.AllowedOrigins,
	}
	if s.hub == nil {
		s.hub = NewHub(0)
	}
	if s.auth == nil {
		s.auth = NewAuthenticator("")
	}
	if s.renderer == nil {
		s.renderer = render.New()
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)

	s.r.Get("/ws", s.handleWS)
	s.r.Group(func(r chi.Router) {
		r.Use(requestLogger)
		r.Use(chimw.Timeout(10 * time.Second))
		r.Get("/healthz", s.handleHealth)
		r.Get("/online", s.handleOnline)
		r.Get("/games/{id}/board.png", s.handleBoard)
		r.Get("/users/{id}/games", s.handleUserGames)
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.r }

// Hub returns the notifier fed by this server's connections.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	code := http.StatusOK
	for _, c := range s.checks {
		if err := c.Run(r.Context()); err != nil {
			status[c.Name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[c.Name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"ok":     code == http.StatusOK,
		"conns":  s.hub.Conns(),
		"checks": status,
	})
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lobby.OnlineSnapshot())
}

// handleBoard renders the current position; ?size= sets the square size, ?flip=1 shows
// Black's side.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	if s.games == nil {
		writeError(w, http.StatusNotFound, CodeGameNotFound)
		return
	}
	g, err := s.games.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, game.ErrGameNotFound) {
		writeError(w, http.StatusNotFound, CodeGameNotFound)
		return
	}
	if err != nil {
		obslog.L().Error("board_load_error", zap.String("game_id", chi.URLParam(r, "id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	opts := render.Options{}
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		opts.SquareSize = v
	}
	opts.Flip, _ = strconv.ParseBool(r.URL.Query().Get("flip"))
	if n := len(g.MovesUCI); n > 0 {
		if m, err := board.ParseUCI(g.MovesUCI[n-1]); err == nil {
			opts.LastMove = &m
		}
	}
	png, err := s.renderer.PNG(r.Context(), g.CurrentPosition, opts)
	if err != nil {
		obslog.L().Error("board_render_error", zap.String("game_id", g.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) handleUserGames(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "ARCHIVE_DISABLED")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := s.results.RecentResults(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		obslog.L().Error("archive_query_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode string) {
	writeJSON(w, code, map[string]string{"error": errCode})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if strings.HasPrefix(r.URL.Path, "/healthz") {
			return
		}
		obslog.L().Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

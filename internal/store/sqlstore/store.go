// Package sqlstore holds the user directory and the archive of finished games in a SQL
// database. Postgres (lib/pq) and SQLite (mattn/go-sqlite3) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/park285/matey-server/internal/game"
	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Dialect is the database/sql driver name.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

var ErrUnsupportedURL = errors.New("unsupported DATABASE_URL scheme")

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Result is one archived game row.
type Result struct {
	GameID        string    `json:"gameId"`
	WhiteID       string    `json:"whitePlayerId"`
	WhiteName     string    `json:"whiteName"`
	BlackID       string    `json:"blackPlayerId"`
	BlackName     string    `json:"blackName"`
	Result        string    `json:"result"`
	Winner        string    `json:"winner"`
	Reason        string    `json:"reason"`
	MovesUCI      []string  `json:"movesUci"`
	MovesSAN      []string  `json:"movesSan"`
	FinalPosition string    `json:"finalPosition"`
	PGN           string    `json:"pgn"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
	DurationMS    int64     `json:"durationMs"`
}

// Open parses databaseURL (postgres://..., sqlite://path, sqlite://:memory:), connects,
// and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case SQLite:
		// one writer; also keeps :memory: on a single connection
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	s, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open handle and migrates it.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseURL maps a DATABASE_URL to a driver and DSN.
func ParseURL(raw string) (Dialect, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", fmt.Errorf("DATABASE_URL is required")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Postgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return SQLite, strings.TrimPrefix(raw, "sqlite://"), nil
	case strings.HasPrefix(raw, "sqlite3://"):
		return SQLite, strings.TrimPrefix(raw, "sqlite3://"), nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) FindUser(ctx context.Context, id string) (*game.User, error) {
	var u game.User
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, username FROM users WHERE id = ?`), strings.TrimSpace(id)).
		Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

// PutUser inserts or renames a directory entry.
func (s *Store) PutUser(ctx context.Context, id, username string) error {
	id, username = strings.TrimSpace(id), strings.TrimSpace(username)
	if id == "" || username == "" {
		return game.ErrInvalidArgs
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username`),
		id, username, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// SaveResult upserts a finished game together with its PGN.
func (s *Store) SaveResult(ctx context.Context, g *game.Session) error {
	if g == nil {
		return nil
	}
	if g.Status != game.StatusFinished {
		return fmt.Errorf("archive game %s: status %s", g.ID, g.Status)
	}
	result := pgnResult(g.Winner)
	movesUCI, err := json.Marshal(nonNil(g.MovesUCI))
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(g.MovesSAN))
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	duration := g.UpdatedAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO games_archive (
			game_id, white_id, white_name, black_id, black_name,
			result, winner, reason, moves_uci, moves_san, final_position, pgn,
			started_at, ended_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE SET
			result = excluded.result,
			winner = excluded.winner,
			reason = excluded.reason,
			moves_uci = excluded.moves_uci,
			moves_san = excluded.moves_san,
			final_position = excluded.final_position,
			pgn = excluded.pgn,
			ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms`),
		g.ID, g.WhitePlayerID, g.WhiteName, g.BlackPlayerID, g.BlackName,
		result, string(g.Winner), g.Reason, string(movesUCI), string(movesSAN), g.CurrentPosition,
		BuildPGN(g), g.CreatedAt.UTC(), g.UpdatedAt.UTC(), duration,
	)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	obslog.L().Info("game_archived", zap.String("game_id", g.ID), zap.String("result", result))
	return nil
}

// RecentResults lists a user's archived games, newest first.
func (s *Store) RecentResults(ctx context.Context, userID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT game_id, white_id, white_name, black_id, black_name,
			result, winner, reason, moves_uci, moves_san, final_position, pgn,
			started_at, ended_at, duration_ms
		FROM games_archive
		WHERE white_id = ? OR black_id = ?
		ORDER BY ended_at DESC
		LIMIT ?`), userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	defer rows.Close()

	out := make([]Result, 0, limit)
	for rows.Next() {
		var (
			r        Result
			uci, san string
		)
		if err := rows.Scan(&r.GameID, &r.WhiteID, &r.WhiteName, &r.BlackID, &r.BlackName,
			&r.Result, &r.Winner, &r.Reason, &uci, &san, &r.FinalPosition, &r.PGN,
			&r.StartedAt, &r.EndedAt, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(uci), &r.MovesUCI); err != nil {
			return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
		}
		if err := json.Unmarshal([]byte(san), &r.MovesSAN); err != nil {
			return nil, fmt.Errorf("unmarshal moves_san: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// migrate applies embedded migrations in lexical order, each once, recorded in _migrations.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var done int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM _migrations WHERE name = ?`), name).Scan(&done)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("query _migrations: %w", err)
		}
		body, err := fs.ReadFile(migrationFiles, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO _migrations (name) VALUES (?)`), name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
		obslog.L().Info("db_migration_applied", zap.String("migration", name), zap.String("dialect", string(s.dialect)))
	}
	return nil
}

// rebind turns ? placeholders into $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

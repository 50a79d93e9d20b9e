// Package prefs persists per-conversant preferences, currently the named
// system-prompt override used by the !chat admin commands.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/plumehq/plume/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS prompt_overrides (
	acct        TEXT PRIMARY KEY,
	prompt_name TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);`

// Service is the per-user preference store.
type Service struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewService opens (and if needed creates) the preference database.
func NewService(log *slog.Logger, cfg config.PrefsConfig) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	path := cfg.DBPath
	if strings.TrimSpace(path) == "" {
		path = config.DefaultPrefsPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create prefs dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init prefs schema: %w", err)
	}
	return &Service{
		db:     db,
		logger: log.With(slog.String("service", "prefs")),
	}, nil
}

// PromptOverride returns the conversant's selected prompt name, or "" when
// none is set. Lookup failures degrade to the default rather than failing
// the mention.
func (s *Service) PromptOverride(ctx context.Context, acct string) string {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt_name FROM prompt_overrides WHERE acct = ?`, acct).Scan(&name)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("prompt override lookup failed", slog.String("acct", acct), slog.Any("error", err))
		}
		return ""
	}
	return name
}

// SetPromptOverride stores the conversant's selected prompt name.
func (s *Service) SetPromptOverride(ctx context.Context, acct, name string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO prompt_overrides (acct, prompt_name, updated_at) VALUES (?, ?, ?)
ON CONFLICT (acct) DO UPDATE SET prompt_name = excluded.prompt_name, updated_at = excluded.updated_at`,
		acct, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set prompt override: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

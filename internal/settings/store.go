package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"crafter/internal/infra"
)

// Store persists the settings record in a small SQLite key/value table.
type Store struct {
	db     *sql.DB
	logger *infra.Logger
	now    func() time.Time
}

// OpenStore opens (creating if needed) the database at path.
func OpenStore(path string, logger *infra.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: migrate store: %w", err)
	}
	return &Store{db: db, logger: infra.LoggerOrDiscard(logger), now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes s under StorageKey with the current time as lastSaved.
func (s *Store) Save(ctx context.Context, settings Settings) error {
	now := s.now()
	raw, err := json.Marshal(Record{Version: Version, Settings: settings, LastSaved: now.UnixMilli()})
	if err != nil {
		return fmt.Errorf("settings: encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		StorageKey, string(raw), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

// Load returns the stored settings merged over defaults. ok is false when
// nothing usable is stored (missing, corrupt or from another version) and the
// defaults are returned instead.
func (s *Store) Load(ctx context.Context) (Settings, bool, error) {
	rec, ok, err := s.record(ctx)
	if err != nil || !ok {
		return Defaults(), false, err
	}
	return rec.Settings, true, nil
}

// LastSaved reports when the settings were last written.
func (s *Store) LastSaved(ctx context.Context) (time.Time, bool, error) {
	rec, ok, err := s.record(ctx)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(rec.LastSaved), true, nil
}

// Clear removes the stored settings.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, StorageKey); err != nil {
		return fmt.Errorf("settings: clear: %w", err)
	}
	return nil
}

func (s *Store) record(ctx context.Context) (Record, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, StorageKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("settings: load: %w", err)
	}

	var envelope struct {
		Version   string          `json:"version"`
		Settings  json.RawMessage `json:"settings"`
		LastSaved int64           `json:"lastSaved"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("settings: stored record is corrupt, using defaults")
		return Record{}, false, nil
	}
	if envelope.Version != Version {
		s.logger.Warn().Str("version", envelope.Version).Msg("settings: version mismatch, using defaults")
		return Record{}, false, nil
	}
	merged, err := Merge(Defaults(), envelope.Settings)
	if err != nil {
		s.logger.Warn().Err(err).Msg("settings: stored settings unreadable, using defaults")
		return Record{}, false, nil
	}
	return Record{Version: envelope.Version, Settings: merged, LastSaved: envelope.LastSaved}, true, nil
}

// Package wordbank is the persistent per-scope, per-voice cache of
// synthesized word clips. Clip bytes live one file per clip under the
// bank directory; metadata (size, duration, creation time) is indexed
// in SQLite so listing and stats never touch audio payloads.
package wordbank

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

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/pcm"
)

var (
	ErrMiss         = errors.New("word bank miss")
	ErrClipTooLarge = errors.New("clip exceeds max_clip_bytes")
)

// Key uniquely identifies one cached clip.
type Key struct {
	ScopeID string
	Voice   string
	Word    string
}

func (k Key) String() string {
	return k.ScopeID + "/" + k.Voice + "/" + k.Word
}

// Clip is one cached audio segment. Immutable once written; replaced
// only by purge+regenerate or import overwrite.
type Clip struct {
	Key             Key
	Audio           []byte
	SizeBytes       int64
	DurationSeconds float64
	CreatedAt       time.Time
}

// Meta is clip metadata without the audio payload.
type Meta struct {
	Key             Key
	SizeBytes       int64
	DurationSeconds float64
	CreatedAt       time.Time
}

type Stats struct {
	TotalWords int64
	TotalBytes int64
	VoicesUsed []string
}

// Announcement is one recorded pipeline outcome.
type Announcement struct {
	RequestID       string
	ScopeID         string
	Voice           string
	Matched         int
	Skipped         int
	DurationSeconds float64
	Success         bool
	Error           string
	CreatedAt       time.Time
}

type Store struct {
	cfg     config.WordBankConfig
	history config.HistoryConfig
	format  pcm.Format
	db      *sql.DB
	log     *slog.Logger
	clock   func() time.Time
}

// Open initializes the clip directory and the SQLite metadata index.
func Open(ctx context.Context, cfg config.WordBankConfig, history config.HistoryConfig, format pcm.Format, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create word bank dir: %w", err)
	}
	if dir := filepath.Dir(cfg.IndexPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.IndexPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		cfg:     cfg,
		history: history,
		format:  format,
		db:      db,
		log:     log.With(slog.String("component", "wordbank")),
		clock:   time.Now,
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Warn("word bank vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.PruneHistory(ctx); err != nil {
		s.log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS clips (
    scope_id TEXT NOT NULL,
    voice TEXT NOT NULL,
    word TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    duration_seconds REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (scope_id, voice, word)
);
CREATE INDEX IF NOT EXISTS idx_clips_scope ON clips(scope_id);
CREATE TABLE IF NOT EXISTS announcements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT,
    scope_id TEXT,
    voice TEXT,
    matched INTEGER,
    skipped INTEGER,
    duration_seconds REAL,
    success INTEGER,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_announcements_created ON announcements(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the metadata index.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Format returns the fixed PCM format all clips are stored in.
func (s *Store) Format() pcm.Format { return s.format }

// Get loads one clip, audio included. Returns ErrMiss when the key is
// unknown or the backing file vanished (the stale row is dropped).
func (s *Store) Get(ctx context.Context, key Key) (Clip, error) {
	meta, err := s.meta(ctx, key)
	if err != nil {
		return Clip{}, err
	}

	audio, err := os.ReadFile(s.clipPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = s.db.ExecContext(ctx,
				`DELETE FROM clips WHERE scope_id = ? AND voice = ? AND word = ?`,
				key.ScopeID, key.Voice, key.Word)
			return Clip{}, ErrMiss
		}
		return Clip{}, fmt.Errorf("read clip %s: %w", key, err)
	}

	return Clip{
		Key:             key,
		Audio:           audio,
		SizeBytes:       meta.SizeBytes,
		DurationSeconds: meta.DurationSeconds,
		CreatedAt:       meta.CreatedAt,
	}, nil
}

// Has reports whether a clip exists without reading its payload.
func (s *Store) Has(ctx context.Context, key Key) (bool, error) {
	_, err := s.meta(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) meta(ctx context.Context, key Key) (Meta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT size_bytes, duration_seconds, created_at FROM clips
		 WHERE scope_id = ? AND voice = ? AND word = ?`,
		key.ScopeID, key.Voice, key.Word)

	m := Meta{Key: key}
	var created string
	if err := row.Scan(&m.SizeBytes, &m.DurationSeconds, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Meta{}, ErrMiss
		}
		return Meta{}, fmt.Errorf("query clip %s: %w", key, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		m.CreatedAt = ts
	}
	return m, nil
}

// Put writes clip bytes and upserts the index row. The file write goes
// through a temp file and rename, so concurrent writers to the same key
// converge on one valid clip (last write wins) and writers to distinct
// keys never corrupt each other.
func (s *Store) Put(ctx context.Context, key Key, audio []byte) error {
	if err := s.format.Validate(audio); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if int64(len(audio)) > s.cfg.MaxClipBytes {
		return fmt.Errorf("put %s: %w (%d bytes)", key, ErrClipTooLarge, len(audio))
	}

	path := s.clipPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create clip dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".clip-*")
	if err != nil {
		return fmt.Errorf("create temp clip: %w", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write clip %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp clip: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename clip %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clips(scope_id, voice, word, size_bytes, duration_seconds, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scope_id, voice, word) DO UPDATE SET
		   size_bytes=excluded.size_bytes,
		   duration_seconds=excluded.duration_seconds,
		   created_at=excluded.created_at`,
		key.ScopeID, key.Voice, key.Word,
		len(audio), s.format.Duration(len(audio)), s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("index clip %s: %w", key, err)
	}
	return nil
}

// Purge deletes one word, one voice's clips, or a whole scope. Returns
// the number of clips removed.
func (s *Store) Purge(ctx context.Context, scopeID, voice, word string) (int64, error) {
	metas, err := s.list(ctx, scopeID, voice, word)
	if err != nil {
		return 0, err
	}
	for _, m := range metas {
		if err := os.Remove(s.clipPath(m.Key)); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove clip file",
				slog.String("key", m.Key.String()), slog.String("error", err.Error()))
		}
	}

	query := `DELETE FROM clips WHERE scope_id = ?`
	args := []any{scopeID}
	if voice != "" {
		query += ` AND voice = ?`
		args = append(args, voice)
	}
	if word != "" {
		query += ` AND word = ?`
		args = append(args, word)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", scopeID, err)
	}
	removed, _ := res.RowsAffected()

	// Drop now-empty voice/scope directories; best effort.
	if voice != "" && word == "" {
		_ = os.Remove(filepath.Join(s.cfg.Path, encodeComponent(scopeID), encodeComponent(voice)))
	}
	if voice == "" && word == "" {
		_ = os.RemoveAll(filepath.Join(s.cfg.Path, encodeComponent(scopeID)))
	}
	return removed, nil
}

// Stats summarizes one scope from the index alone.
func (s *Store) Stats(ctx context.Context, scopeID string) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM clips WHERE scope_id = ?`, scopeID)
	if err := row.Scan(&st.TotalWords, &st.TotalBytes); err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", scopeID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT voice FROM clips WHERE scope_id = ? ORDER BY voice`, scopeID)
	if err != nil {
		return Stats{}, fmt.Errorf("stats voices %s: %w", scopeID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return Stats{}, err
		}
		st.VoicesUsed = append(st.VoicesUsed, v)
	}
	return st, rows.Err()
}

// List returns clip metadata for a scope, optionally narrowed to a voice.
func (s *Store) List(ctx context.Context, scopeID, voice string) ([]Meta, error) {
	return s.list(ctx, scopeID, voice, "")
}

func (s *Store) list(ctx context.Context, scopeID, voice, word string) ([]Meta, error) {
	query := `SELECT scope_id, voice, word, size_bytes, duration_seconds, created_at
	          FROM clips WHERE scope_id = ?`
	args := []any{scopeID}
	if voice != "" {
		query += ` AND voice = ?`
		args = append(args, voice)
	}
	if word != "" {
		query += ` AND word = ?`
		args = append(args, word)
	}
	query += ` ORDER BY voice, word`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", scopeID, err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var created string
		if err := rows.Scan(&m.Key.ScopeID, &m.Key.Voice, &m.Key.Word,
			&m.SizeBytes, &m.DurationSeconds, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			m.CreatedAt = ts
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// AppendAnnouncement records one pipeline outcome.
func (s *Store) AppendAnnouncement(ctx context.Context, a Announcement) error {
	if !s.history.Enabled {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO announcements(request_id, scope_id, voice, matched, skipped,
		   duration_seconds, success, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RequestID, a.ScopeID, a.Voice, a.Matched, a.Skipped,
		a.DurationSeconds, a.Success, a.Error, a.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// PruneHistory applies retention to the announcements table.
func (s *Store) PruneHistory(ctx context.Context) error {
	if !s.history.Enabled {
		return nil
	}
	if s.history.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.history.RetentionDays) * 24 * time.Hour)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM announcements WHERE created_at < ?`,
			cutoff.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	if s.history.MaxEntries > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM announcements WHERE id IN (
			   SELECT id FROM announcements ORDER BY created_at DESC LIMIT -1 OFFSET ?
			 )`, s.history.MaxEntries); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) clipPath(key Key) string {
	return filepath.Join(s.cfg.Path, encodeComponent(key.ScopeID), encodeComponent(key.Voice), encodeComponent(key.Word)+".pcm")
}

// encodeComponent turns a key component into a filesystem-safe path
// segment. Letters, digits, and '-' pass through; every other byte,
// '_' included, becomes "_hh" (lowercase hex). The encoding is
// injective: distinct scope, voice, or word ids can never collide onto
// the same clip file, so one tenant's Put cannot clobber another's.
func encodeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

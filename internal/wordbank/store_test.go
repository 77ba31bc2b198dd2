package wordbank

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/pcm"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.WordBankConfig{
		Path:         filepath.Join(tmp, "bank"),
		IndexPath:    filepath.Join(tmp, "index.db"),
		MaxClipBytes: 1 << 20,
	}
	history := config.HistoryConfig{Enabled: true, RetentionDays: 30, MaxEntries: 100}
	s, err := Open(context.Background(), cfg, history, pcm.DefaultFormat, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func clipBytes(ms int) []byte {
	buf := pcm.DefaultFormat.Silence(ms)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ScopeID: "guild-1", Voice: "brian", Word: "warning"}
	audio := clipBytes(600)

	if _, err := s.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := s.Put(ctx, key, audio); err != nil {
		t.Fatalf("put: %v", err)
	}

	clip, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(clip.Audio, audio) {
		t.Fatal("audio bytes changed through the store")
	}
	if clip.SizeBytes != int64(len(audio)) {
		t.Fatalf("unexpected size: %d", clip.SizeBytes)
	}
	if clip.DurationSeconds != 0.6 {
		t.Fatalf("unexpected duration: %f", clip.DurationSeconds)
	}
}

func TestScopeIsolationAcrossSimilarIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// These scope ids differ only by a character the filesystem layer
	// has to escape. Each must keep its own clip file.
	slashKey := Key{ScopeID: "team/a", Voice: "announcer", Word: "go"}
	underscoreKey := Key{ScopeID: "team_a", Voice: "announcer", Word: "go"}

	slashAudio := clipBytes(100)
	underscoreAudio := clipBytes(200)

	if err := s.Put(ctx, slashKey, slashAudio); err != nil {
		t.Fatalf("put %s: %v", slashKey, err)
	}
	if err := s.Put(ctx, underscoreKey, underscoreAudio); err != nil {
		t.Fatalf("put %s: %v", underscoreKey, err)
	}

	got, err := s.Get(ctx, slashKey)
	if err != nil {
		t.Fatalf("get %s: %v", slashKey, err)
	}
	if !bytes.Equal(got.Audio, slashAudio) {
		t.Fatalf("scope %s served another scope's audio", slashKey.ScopeID)
	}
	got, err = s.Get(ctx, underscoreKey)
	if err != nil {
		t.Fatalf("get %s: %v", underscoreKey, err)
	}
	if !bytes.Equal(got.Audio, underscoreAudio) {
		t.Fatalf("scope %s served another scope's audio", underscoreKey.ScopeID)
	}

	if s.clipPath(slashKey) == s.clipPath(underscoreKey) {
		t.Fatal("distinct scopes mapped to the same clip file")
	}
}

func TestVoiceIsolationAcrossSimilarIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	dotKey := Key{ScopeID: "g", Voice: "en.female", Word: "go"}
	underscoreKey := Key{ScopeID: "g", Voice: "en_female", Word: "go"}

	if err := s.Put(ctx, dotKey, clipBytes(100)); err != nil {
		t.Fatalf("put %s: %v", dotKey, err)
	}
	if err := s.Put(ctx, underscoreKey, clipBytes(200)); err != nil {
		t.Fatalf("put %s: %v", underscoreKey, err)
	}

	got, err := s.Get(ctx, dotKey)
	if err != nil {
		t.Fatalf("get %s: %v", dotKey, err)
	}
	if len(got.Audio) != len(clipBytes(100)) {
		t.Fatalf("voice %s served another voice's audio", dotKey.Voice)
	}
}

func TestEncodeComponentInjective(t *testing.T) {
	cases := map[string]string{
		"plain":  "plain",
		"team_a": "team_5fa",
		"team/a": "team_2fa",
		"..":     "_2e_2e",
		"en-US":  "en-US",
		"a b":    "a_20b",
	}
	for in, want := range cases {
		if got := encodeComponent(in); got != want {
			t.Fatalf("encodeComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPutRejectsMalformed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ScopeID: "g", Voice: "v", Word: "w"}

	if err := s.Put(ctx, key, nil); err == nil {
		t.Fatal("expected error for empty clip")
	}
	if err := s.Put(ctx, key, make([]byte, 3)); err == nil {
		t.Fatal("expected error for misaligned clip")
	}
}

func TestPutRejectsOversize(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.WordBankConfig{
		Path:         filepath.Join(tmp, "bank"),
		IndexPath:    filepath.Join(tmp, "index.db"),
		MaxClipBytes: 100,
	}
	s, err := Open(context.Background(), cfg, config.HistoryConfig{}, pcm.DefaultFormat, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	err = s.Put(context.Background(), Key{ScopeID: "g", Voice: "v", Word: "w"}, clipBytes(10))
	if !errors.Is(err, ErrClipTooLarge) {
		t.Fatalf("expected ErrClipTooLarge, got %v", err)
	}
}

func TestPutOverwriteSameKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ScopeID: "g", Voice: "v", Word: "w"}

	if err := s.Put(ctx, key, clipBytes(100)); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := clipBytes(200)
	if err := s.Put(ctx, key, second); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}

	clip, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(clip.Audio, second) {
		t.Fatal("expected last write to win")
	}

	st, err := s.Stats(ctx, "g")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalWords != 1 {
		t.Fatalf("expected exactly one clip per key, got %d", st.TotalWords)
	}
}

func TestGetDropsStaleIndexRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	key := Key{ScopeID: "g", Voice: "v", Word: "w"}
	if err := s.Put(ctx, key, clipBytes(50)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.Remove(s.clipPath(key)); err != nil {
		t.Fatalf("remove clip file: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss after file removal, got %v", err)
	}
	if ok, _ := s.Has(ctx, key); ok {
		t.Fatal("expected stale row to be dropped")
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	put := func(scope, voice, word string) {
		t.Helper()
		if err := s.Put(ctx, Key{ScopeID: scope, Voice: voice, Word: word}, clipBytes(20)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	put("g1", "brian", "alpha")
	put("g1", "brian", "bravo")
	put("g1", "amy", "alpha")
	put("g2", "brian", "alpha")

	removed, err := s.Purge(ctx, "g1", "brian", "")
	if err != nil {
		t.Fatalf("purge voice: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	st, _ := s.Stats(ctx, "g1")
	if st.TotalWords != 1 || len(st.VoicesUsed) != 1 || st.VoicesUsed[0] != "amy" {
		t.Fatalf("unexpected stats after voice purge: %+v", st)
	}

	removed, err = s.Purge(ctx, "g1", "", "")
	if err != nil {
		t.Fatalf("purge scope: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	// Other scopes are untouched.
	if ok, _ := s.Has(ctx, Key{ScopeID: "g2", Voice: "brian", Word: "alpha"}); !ok {
		t.Fatal("purge leaked into another scope")
	}
}

func TestPurgeSingleWord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	k1 := Key{ScopeID: "g", Voice: "v", Word: "keep"}
	k2 := Key{ScopeID: "g", Voice: "v", Word: "drop"}
	_ = s.Put(ctx, k1, clipBytes(20))
	_ = s.Put(ctx, k2, clipBytes(20))

	removed, err := s.Purge(ctx, "g", "v", "drop")
	if err != nil {
		t.Fatalf("purge word: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if ok, _ := s.Has(ctx, k1); !ok {
		t.Fatal("kept word disappeared")
	}
	if ok, _ := s.Has(ctx, k2); ok {
		t.Fatal("purged word still present")
	}
}

func TestStatsEmptyScope(t *testing.T) {
	s := openTestStore(t)
	st, err := s.Stats(context.Background(), "nope")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalWords != 0 || st.TotalBytes != 0 || len(st.VoicesUsed) != 0 {
		t.Fatalf("expected empty stats, got %+v", st)
	}
}

func TestAnnouncementHistoryPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendAnnouncement(ctx, Announcement{RequestID: "old", ScopeID: "g", Success: true}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendAnnouncement(ctx, Announcement{RequestID: "new", ScopeID: "g", Success: true}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.PruneHistory(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM announcements`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected old announcement pruned, got %d rows", count)
	}
}

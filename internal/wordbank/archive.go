package wordbank

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Archive format: a zstd-compressed tar stream. The first entry is
// manifest.json; every clip follows as clips/<voice>/<word>.pcm. The
// manifest lets an importer validate payloads before committing and a
// human inspect a bank without decoding audio.

const manifestName = "manifest.json"

var (
	ErrNoManifest      = errors.New("archive missing manifest")
	ErrFormatMismatch  = errors.New("archive format does not match system format")
	ErrManifestPayload = errors.New("payload does not match manifest")
)

type ManifestEntry struct {
	Word            string  `json:"word"`
	Voice           string  `json:"voice"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type Manifest struct {
	SampleRate int             `json:"sample_rate"`
	Channels   int             `json:"channels"`
	ExportedAt time.Time       `json:"exported_at"`
	Entries    []ManifestEntry `json:"entries"`
}

// ImportReport summarizes one archive import.
type ImportReport struct {
	Imported int
	Skipped  int
}

// Export packages a scope's clips (optionally one voice) into an archive
// suitable for moving bank content between scopes or installations.
func (s *Store) Export(ctx context.Context, scopeID, voice string) ([]byte, error) {
	metas, err := s.list(ctx, scopeID, voice, "")
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("export %s: %w", scopeID, ErrMiss)
	}

	manifest := Manifest{
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		ExportedAt: s.clock().UTC(),
	}
	for _, m := range metas {
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Word:            m.Key.Word,
			Voice:           m.Key.Voice,
			SizeBytes:       m.SizeBytes,
			DurationSeconds: m.DurationSeconds,
		})
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeTarFile(tw, manifestName, manifestData); err != nil {
		return nil, err
	}

	for _, m := range metas {
		clip, err := s.Get(ctx, m.Key)
		if err != nil {
			return nil, fmt.Errorf("export clip %s: %w", m.Key, err)
		}
		name := path.Join("clips", m.Key.Voice, m.Key.Word+".pcm")
		if err := writeTarFile(tw, name, clip.Audio); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zstd: %w", err)
	}

	s.log.Info("exported word bank",
		slog.String("scope", scopeID), slog.String("voice", voice),
		slog.Int("clips", len(metas)), slog.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// Import unpacks an archive into the given scope. Every payload is
// validated against the manifest before anything is committed; entries
// whose bytes disagree with the manifest are skipped, valid entries
// overwrite existing clips.
func (s *Store) Import(ctx context.Context, scopeID string, archive []byte) (ImportReport, error) {
	zr, err := zstd.NewReader(bytes.NewReader(archive))
	if err != nil {
		return ImportReport{}, fmt.Errorf("open zstd: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	var manifest *Manifest
	payloads := make(map[string][]byte)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ImportReport{}, fmt.Errorf("read archive: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return ImportReport{}, fmt.Errorf("read archive entry %s: %w", hdr.Name, err)
		}
		if hdr.Name == manifestName {
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return ImportReport{}, fmt.Errorf("parse manifest: %w", err)
			}
			manifest = &m
			continue
		}
		payloads[path.Clean(hdr.Name)] = data
	}

	if manifest == nil {
		return ImportReport{}, ErrNoManifest
	}
	if manifest.SampleRate != s.format.SampleRate || manifest.Channels != s.format.Channels {
		return ImportReport{}, fmt.Errorf("%w: archive %dHz/%dch, system %dHz/%dch",
			ErrFormatMismatch, manifest.SampleRate, manifest.Channels,
			s.format.SampleRate, s.format.Channels)
	}

	// Validate everything against the manifest before the first write.
	type pending struct {
		key   Key
		audio []byte
	}
	var commit []pending
	report := ImportReport{}
	for _, entry := range manifest.Entries {
		name := path.Join("clips", entry.Voice, entry.Word+".pcm")
		audio, ok := payloads[name]
		if !ok {
			s.log.Warn("import: manifest entry missing payload", slog.String("entry", name))
			report.Skipped++
			continue
		}
		if int64(len(audio)) != entry.SizeBytes {
			s.log.Warn("import: payload size mismatch",
				slog.String("entry", name),
				slog.Int("got", len(audio)), slog.Int64("want", entry.SizeBytes))
			report.Skipped++
			continue
		}
		if err := s.format.Validate(audio); err != nil {
			s.log.Warn("import: malformed payload", slog.String("entry", name), slog.String("error", err.Error()))
			report.Skipped++
			continue
		}
		commit = append(commit, pending{
			key:   Key{ScopeID: scopeID, Voice: entry.Voice, Word: entry.Word},
			audio: audio,
		})
	}

	for _, p := range commit {
		if err := s.Put(ctx, p.key, p.audio); err != nil {
			return report, fmt.Errorf("import %s: %w", p.key, err)
		}
		report.Imported++
	}

	s.log.Info("imported word bank archive",
		slog.String("scope", scopeID),
		slog.Int("imported", report.Imported), slog.Int("skipped", report.Skipped))
	return report, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar entry %s: %w", name, err)
	}
	return nil
}

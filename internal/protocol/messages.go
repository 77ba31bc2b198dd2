package protocol

import "time"

const (
	SubjectSynthesizeRequest = "vox.synthesize.request"
	SubjectProgressPrefix    = "vox.synthesize.progress"
	SubjectResultPrefix      = "vox.synthesize.result"
	SubjectAdminPurge        = "vox.admin.purge"
	SubjectAdminStats        = "vox.admin.stats"
	SubjectAdminExport       = "vox.admin.export"
	SubjectAdminImport       = "vox.admin.import"
)

// ProgressSubject returns the per-request progress subject.
func ProgressSubject(requestID string) string {
	return SubjectProgressPrefix + "." + requestID
}

// ResultSubject returns the per-request result subject.
func ResultSubject(requestID string) string {
	return SubjectResultPrefix + "." + requestID
}

// CustomFilter carries caller-supplied effect parameters overriding a preset.
type CustomFilter struct {
	HighpassHz       float64 `json:"highpass_hz"`
	LowpassHz        float64 `json:"lowpass_hz"`
	CompressionRatio float64 `json:"compression_ratio"`
	Distortion       float64 `json:"distortion"`
}

// SynthesizeRequest asks the announce service to build one announcement.
type SynthesizeRequest struct {
	RequestID string        `json:"request_id"`
	ScopeID   string        `json:"scope_id"`
	Voice     string        `json:"voice"`
	Text      string        `json:"text"`
	Preset    string        `json:"preset,omitempty"`
	Custom    *CustomFilter `json:"custom_filter,omitempty"`
	WordGapMS *int          `json:"word_gap_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Progress is published on the per-request progress subject as the
// pipeline advances. Counts are cumulative.
type Progress struct {
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	Word      string    `json:"word,omitempty"`
	Cached    int       `json:"cached"`
	Generated int       `json:"generated"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// SkippedWord reports one word excluded from the final buffer.
type SkippedWord struct {
	Word   string `json:"word"`
	Reason string `json:"reason"`
}

// SynthesizeResult carries the final buffer back to the playback consumer.
// PCM is raw interleaved 16-bit little-endian samples in the system format.
type SynthesizeResult struct {
	RequestID       string        `json:"request_id"`
	Success         bool          `json:"success"`
	Error           string        `json:"error,omitempty"`
	PCM             []byte        `json:"pcm,omitempty"`
	SampleRate      int           `json:"sample_rate"`
	Channels        int           `json:"channels"`
	DurationSeconds float64       `json:"duration_seconds"`
	MatchedWords    []string      `json:"matched_words"`
	SkippedWords    []SkippedWord `json:"skipped_words"`
	OutputPath      string        `json:"output_path,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// PurgeRequest removes clips for one voice, or a whole scope when Voice
// is empty. Sent request/reply on SubjectAdminPurge.
type PurgeRequest struct {
	ScopeID string `json:"scope_id"`
	Voice   string `json:"voice,omitempty"`
	Word    string `json:"word,omitempty"`
}

type PurgeResponse struct {
	Removed int64  `json:"removed"`
	Error   string `json:"error,omitempty"`
}

type StatsRequest struct {
	ScopeID string `json:"scope_id"`
}

type StatsResponse struct {
	TotalWords int64    `json:"total_words"`
	TotalBytes int64    `json:"total_bytes"`
	VoicesUsed []string `json:"voices_used"`
	Error      string   `json:"error,omitempty"`
}

type ExportRequest struct {
	ScopeID string `json:"scope_id"`
	Voice   string `json:"voice,omitempty"`
}

type ExportResponse struct {
	Archive []byte `json:"archive,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ImportRequest struct {
	ScopeID string `json:"scope_id"`
	Archive []byte `json:"archive"`
}

type ImportResponse struct {
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

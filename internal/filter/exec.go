package filter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/voxlabs/vox-core/internal/pcm"
)

// execProcessor pipes the buffer through an external DSP command (sox,
// ffmpeg, or a custom tool). JSON request on stdin, JSON response on
// stdout, mirroring the exec synthesis backend.
type execProcessor struct {
	cmd    []string
	format pcm.Format
}

type execProcRequest struct {
	PCMBase64        string  `json:"pcm_base64"`
	SampleRate       int     `json:"sample_rate"`
	Channels         int     `json:"channels"`
	HighpassHz       float64 `json:"highpass_hz"`
	LowpassHz        float64 `json:"lowpass_hz"`
	CompressionRatio float64 `json:"compression_ratio"`
	Distortion       float64 `json:"distortion"`
}

type execProcResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

func NewExecProcessor(command string, format pcm.Format) (Processor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse filter command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("filter command empty")
	}
	return &execProcessor{cmd: args, format: format}, nil
}

func (e *execProcessor) Process(ctx context.Context, buf []byte, s Settings) ([]byte, error) {
	payload, err := json.Marshal(execProcRequest{
		PCMBase64:        base64.StdEncoding.EncodeToString(buf),
		SampleRate:       e.format.SampleRate,
		Channels:         e.format.Channels,
		HighpassHz:       s.HighpassHz,
		LowpassHz:        s.LowpassHz,
		CompressionRatio: s.CompressionRatio,
		Distortion:       s.Distortion,
	})
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("filter command failed: %w", err)
	}

	var resp execProcResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("decode filter response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("filter command error: %s", resp.Error)
	}
	out, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode filter audio: %w", err)
	}
	return out, nil
}

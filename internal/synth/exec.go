package synth

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

// execProvider shells out to an external synthesis command per word.
// Request JSON goes to stdin, response JSON comes back on stdout.
type execProvider struct {
	cmd    []string
	format pcm.Format
}

type execRequest struct {
	Word       string `json:"word"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

func NewExecProvider(command string, format pcm.Format) (Provider, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}
	return &execProvider{cmd: args, format: format}, nil
}

func (e *execProvider) SynthesizeWord(ctx context.Context, word, voice string) ([]byte, error) {
	payload, err := json.Marshal(execRequest{
		Word:       word,
		Voice:      voice,
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
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
		return nil, fmt.Errorf("synth command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("decode synth response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("synth command error: %s", resp.Error)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode synth audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyResult
	}
	return audio, nil
}

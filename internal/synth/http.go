package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxlabs/vox-core/internal/pcm"
)

// httpProvider talks to a synthesis HTTP service. One POST per word;
// rate limiting is the caller's job via call concurrency.
type httpProvider struct {
	endpoint string
	apiKey   string
	format   pcm.Format
	client   *http.Client
}

type httpRequest struct {
	Word       string `json:"word"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type httpResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Error     string `json:"error,omitempty"`
}

func NewHTTPProvider(endpoint, apiKey string, format pcm.Format) Provider {
	return &httpProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		format:   format,
		client:   http.DefaultClient,
	}
}

func (p *httpProvider) SynthesizeWord(ctx context.Context, word, voice string) ([]byte, error) {
	body, err := json.Marshal(httpRequest{
		Word:       word,
		Voice:      voice,
		SampleRate: p.format.SampleRate,
		Channels:   p.format.Channels,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("synth provider returned status %s", resp.Status)
	}

	var decoded httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode synth response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("synth provider error: %s", decoded.Error)
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode synth audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyResult
	}
	return audio, nil
}

package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tinyland-inc/govorun/pkg/logger"
)

// ErrEmptyText is returned when nothing speakable is left after cleaning.
var ErrEmptyText = errors.New("text is empty after cleaning")

// Synthesizer converts prepared text into audio bytes. Implementations
// talk to an external engine and may fail; the caller decides how to
// surface that.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// HTTPSynthesizer calls a speech-synthesis HTTP server (a piper-style
// endpoint accepting JSON {"text": ...} and answering with audio bytes).
type HTTPSynthesizer struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSynthesizer(baseURL string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesis server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading synthesis response: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("synthesis server returned no audio")
	}
	return audio, nil
}

// Service is the text-to-voice pipeline: clean, rewrite control markup,
// truncate, then hand the result to the synthesis engine.
type Service struct {
	synth         Synthesizer
	maxTextLength int
}

func NewService(synth Synthesizer, maxTextLength int) *Service {
	return &Service{synth: synth, maxTextLength: maxTextLength}
}

// Generate produces an audio rendition of text. Empty text after
// cleaning is a precondition failure, not a silent no-op.
func (s *Service) Generate(ctx context.Context, text string) ([]byte, error) {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, ErrEmptyText
	}

	prepared := Truncate(RewriteControlMarks(cleaned), s.maxTextLength)

	logger.DebugCF("voice", "Synthesizing text", map[string]any{
		"chars": len([]rune(prepared)),
	})

	audio, err := s.synth.Synthesize(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("generating voice message: %w", err)
	}
	return audio, nil
}

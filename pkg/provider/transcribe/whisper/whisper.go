// Package whisper provides a transcription gateway backed by a running
// whisper.cpp server.
//
// [Provider] talks to the whisper-server binary over its REST API
// (POST /inference). For in-process inference through the CGO bindings, see
// package whispercpp.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, clip)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/audio/wav"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
)

const defaultLanguage = "en"

var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "base.en"). When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent with every request. Defaults to
// "en". Use "auto" to let the server detect it.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client. The default client has no timeout;
// callers bound requests through ctx.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements [transcribe.Provider] against a whisper.cpp server.
type Provider struct {
	endpoint   string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("whisper: invalid server URL %q", serverURL)
	}

	p := &Provider{
		endpoint:   strings.TrimRight(serverURL, "/") + "/inference",
		language:   defaultLanguage,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [transcribe.Provider]. WAV clips are forwarded as-is;
// other media types are uploaded under a matching file name for servers
// started with --convert.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", fmt.Errorf("whisper: %w", transcribe.ErrNoSpeech)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", fileName(clip.MediaType))
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return "", fmt.Errorf("whisper: write audio: %w", err)
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", p.language},
		{"model", p.model},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(data, &result) == nil && result.Error != "" {
			return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, result.Error)
		}
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	text, err := transcribe.Normalize(result.Text)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	return text, nil
}

// fileName picks an upload name whose extension matches mediaType.
func fileName(mediaType string) string {
	switch mediaType {
	case wav.MediaType, "audio/x-wav", "audio/wave", "":
		return "clip.wav"
	case "audio/ogg", "audio/ogg; codecs=opus":
		return "clip.ogg"
	case "audio/webm", "audio/webm; codecs=opus":
		return "clip.webm"
	case "audio/mpeg":
		return "clip.mp3"
	case "audio/flac":
		return "clip.flac"
	default:
		return "clip.bin"
	}
}

package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/provider/tts"
)

// fakeServer emulates the stream-input endpoint: it collects text messages
// until the empty flush message, then answers with the configured chunks.
// With fail set it sends an error message in place of the final one.
type fakeServer struct {
	chunks [][]byte
	fail   string

	mu    sync.Mutex
	path  string
	query string
	boi   boiMessage
	texts []string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/voices" {
		if r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"abc","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	f.mu.Lock()
	f.path, f.query = r.URL.Path, r.URL.RawQuery
	f.mu.Unlock()

	ctx := r.Context()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	var boi boiMessage
	_ = json.Unmarshal(data, &boi)
	f.mu.Lock()
	f.boi = boi
	f.mu.Unlock()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg textMessage
		_ = json.Unmarshal(data, &msg)
		if msg.Text == "" {
			break
		}
		f.mu.Lock()
		f.texts = append(f.texts, msg.Text)
		f.mu.Unlock()
	}

	for _, c := range f.chunks {
		out, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(c)})
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
	if f.fail != "" {
		msg, _ := json.Marshal(audioResponse{Message: f.fail, Error: "quota_exceeded"})
		_ = conn.Write(ctx, websocket.MessageText, msg)
		return
	}
	final, _ := json.Marshal(audioResponse{IsFinal: true})
	_ = conn.Write(ctx, websocket.MessageText, final)
}

func newTestProvider(t *testing.T, f *fakeServer, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	p, err := New("key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	f := &fakeServer{chunks: [][]byte{{1, 2}, {3, 4, 5, 6}}}
	p := newTestProvider(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 3)
	text <- "Hello "
	text <- ""
	text <- "world."
	close(text)

	stream, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []byte
	for c := range stream.Audio {
		got = append(got, c...)
	}

	if string(got) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("audio = %v", got)
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err() = %v after a clean finish", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", f.path)
	}
	if !strings.Contains(f.query, "model_id="+defaultModel) || !strings.Contains(f.query, "output_format=pcm_16000") {
		t.Errorf("query = %q", f.query)
	}
	if f.boi.XiAPIKey != "key" || f.boi.Text != " " || f.boi.VoiceSettings == nil {
		t.Errorf("BOI = %+v", f.boi)
	}
	if strings.Join(f.texts, "|") != "Hello |world." {
		t.Errorf("texts = %q (empty fragments must be skipped)", f.texts)
	}
}

func TestSynthesizeStream_ServerError(t *testing.T) {
	f := &fakeServer{chunks: [][]byte{{1, 2}}, fail: "Quota exceeded"}
	p := newTestProvider(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 1)
	text <- "Hello."
	close(text)

	stream, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	n := 0
	for c := range stream.Audio {
		n += len(c)
	}
	if n != 2 {
		t.Errorf("audio bytes before failure = %d, want 2", n)
	}
	if err := stream.Err(); err == nil || !strings.Contains(err.Error(), "Quota exceeded") {
		t.Errorf("Err() = %v, want the server message", err)
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), nil, tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestSynthesizeStream_DialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	p, _ := New("key", WithBaseURL(srv.URL))

	if _, err := p.SynthesizeStream(context.Background(), make(chan string), tts.VoiceProfile{ID: "v"}); err == nil {
		t.Error("expected dial error")
	}
}

func TestListVoices(t *testing.T) {
	p := newTestProvider(t, &fakeServer{})
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("voices = %d", len(voices))
	}
	v := voices[0]
	if v.ID != "abc" || v.Name != "Rachel" || v.Provider != "elevenlabs" {
		t.Errorf("voice = %+v", v)
	}
	if v.Metadata["accent"] != "american" || v.Metadata["category"] != "premade" {
		t.Errorf("metadata = %v", v.Metadata)
	}
}

func TestListVoices_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{})
	defer srv.Close()
	p, _ := New("wrong", WithBaseURL(srv.URL))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Error("expected error for HTTP 401")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}

	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("model = %q", p.model)
	}
	if p.Format() != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("Format = %+v", p.Format())
	}
}

func TestWithBaseURL_MapsScheme(t *testing.T) {
	p, _ := New("key", WithBaseURL("https://proxy.example/"))
	if p.wsBase != "wss://proxy.example" || p.apiBase != "https://proxy.example" {
		t.Errorf("wsBase=%q apiBase=%q", p.wsBase, p.apiBase)
	}
}

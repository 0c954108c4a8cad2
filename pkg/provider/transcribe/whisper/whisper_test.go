package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/audio/wav"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe/whisper"
)

// received captures what the fake server saw in one request.
type received struct {
	path     string
	fileName string
	fileSize int
	fields   map[string]string
}

// newFakeServer answers POST /inference with status and body and records each
// parsed multipart request.
func newFakeServer(t *testing.T, status int, body any) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := received{path: r.URL.Path, fields: map[string]string{}}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				rec.fields[k] = v[0]
			}
			if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
				rec.fileName = fh[0].Filename
				f, _ := fh[0].Open()
				data, _ := io.ReadAll(f)
				rec.fileSize = len(data)
			}
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), reqs...)
	}
}

func testClip() audio.Clip {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	return audio.Clip{Data: wav.Encode(make([]byte, 3200), f), MediaType: wav.MediaType, Format: f}
}

func TestNew_Validation(t *testing.T) {
	for _, u := range []string{"", "localhost:8080", "://bad"} {
		if _, err := whisper.New(u); err == nil {
			t.Errorf("New(%q) returned nil error", u)
		}
	}
	if _, err := whisper.New("http://localhost:8080", whisper.WithModel("small"), whisper.WithLanguage("de")); err != nil {
		t.Errorf("New with options: %v", err)
	}
}

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()
	srv, reqs := newFakeServer(t, http.StatusOK, map[string]string{"text": "  turn the lights off \n"})

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"), whisper.WithModel("base"))
	if err != nil {
		t.Fatal(err)
	}
	clip := testClip()
	text, err := p.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "turn the lights off" {
		t.Errorf("text = %q", text)
	}

	got := reqs()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	r := got[0]
	if r.path != "/inference" {
		t.Errorf("path = %q", r.path)
	}
	if r.fileName != "clip.wav" || r.fileSize != len(clip.Data) {
		t.Errorf("file = %q (%d bytes)", r.fileName, r.fileSize)
	}
	if r.fields["language"] != "de" || r.fields["model"] != "base" || r.fields["response_format"] != "json" {
		t.Errorf("fields = %v", r.fields)
	}
}

func TestTranscribe_OmitsEmptyModel(t *testing.T) {
	t.Parallel()
	srv, reqs := newFakeServer(t, http.StatusOK, map[string]string{"text": "hi"})
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), testClip()); err != nil {
		t.Fatal(err)
	}
	if _, ok := reqs()[0].fields["model"]; ok {
		t.Error("model field sent although unset")
	}
	if reqs()[0].fields["language"] != "en" {
		t.Errorf("default language = %q, want en", reqs()[0].fields["language"])
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "   ", "[BLANK_AUDIO]"} {
		srv, _ := newFakeServer(t, http.StatusOK, map[string]string{"text": text})
		p, _ := whisper.New(srv.URL)
		if _, err := p.Transcribe(context.Background(), testClip()); !errors.Is(err, transcribe.ErrNoSpeech) {
			t.Errorf("text %q: err = %v, want ErrNoSpeech", text, err)
		}
	}
}

func TestTranscribe_EmptyClip(t *testing.T) {
	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), audio.Clip{}); !errors.Is(err, transcribe.ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t, http.StatusInternalServerError, map[string]string{"error": "model not loaded"})
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), testClip())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, transcribe.ErrNoSpeech) {
		t.Error("server failure must not be reported as no speech")
	}
	if want := "whisper: server returned HTTP 500: model not loaded"; err.Error() != want {
		t.Errorf("err = %q, want %q", err, want)
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t, http.StatusOK, map[string]string{"text": "late"})
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, testClip()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTranscribe_NonWAVFileName(t *testing.T) {
	t.Parallel()
	srv, reqs := newFakeServer(t, http.StatusOK, map[string]string{"text": "ok"})
	p, _ := whisper.New(srv.URL)

	clip := audio.Clip{Data: []byte("OggS...."), MediaType: "audio/ogg"}
	if _, err := p.Transcribe(context.Background(), clip); err != nil {
		t.Fatal(err)
	}
	if name := reqs()[0].fileName; name != "clip.ogg" {
		t.Errorf("file name = %q, want clip.ogg", name)
	}
}

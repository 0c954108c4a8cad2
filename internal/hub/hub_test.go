package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/handsfree/internal/speech"
	"github.com/MrWong99/handsfree/internal/voicemode"
	"github.com/MrWong99/handsfree/pkg/audio"
)

// ─── fakes ────────────────────────────────────────────────────────────────────

type fakeVoice struct {
	mu       sync.Mutex
	status   voicemode.StatusEvent
	subs     []chan voicemode.StatusEvent
	enables  int
	disables int
}

func (v *fakeVoice) Enable(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enables++
	return nil
}

func (v *fakeVoice) Disable() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disables++
}

func (v *fakeVoice) Status() voicemode.StatusEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func (v *fakeVoice) Subscribe(buffer int) (<-chan voicemode.StatusEvent, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan voicemode.StatusEvent, buffer)
	v.subs = append(v.subs, ch)
	return ch, func() {}
}

func (v *fakeVoice) emit(ev voicemode.StatusEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = ev
	for _, ch := range v.subs {
		ch <- ev
	}
}

// setStatus changes the current status without publishing it.
func (v *fakeVoice) setStatus(ev voicemode.StatusEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = ev
}

func (v *fakeVoice) subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

func (v *fakeVoice) counts() (enables, disables int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enables, v.disables
}

type fakeSpeaker struct {
	mu         sync.Mutex
	err        error
	failLater  error         // handed to OnFailed after Speak returns
	gate       chan struct{} // when set, Speak waits for it
	requests   []speech.Request
	interrupts []audio.InterruptReason
}

func (s *fakeSpeaker) Speak(_ context.Context, req speech.Request) (string, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.requests = append(s.requests, req)
	id := req.ID
	if id == "" {
		id = "generated"
	}
	if s.failLater != nil && req.OnFailed != nil {
		go req.OnFailed(id, s.failLater)
	}
	return id, nil
}

func (s *fakeSpeaker) Interrupt(r audio.InterruptReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts = append(s.interrupts, r)
	return true
}

func (s *fakeSpeaker) snapshot() ([]speech.Request, []audio.InterruptReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.Request(nil), s.requests...), append([]audio.InterruptReason(nil), s.interrupts...)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

type message struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Enabled bool   `json:"enabled"`
	ID      string `json:"id"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startHub(t *testing.T, speaker Speaker) (*Hub, *fakeVoice, string) {
	t.Helper()
	voice := &fakeVoice{status: voicemode.StatusEvent{Status: voicemode.StatusIdle}}
	h := New(voice, speaker)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = h.Close() })
	return h, voice, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// dial connects a client and consumes the initial status message.
func dial(t *testing.T, h *Hub, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	before := h.Clients()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	if got := read(t, conn); got.Type != TypeStatus {
		t.Fatalf("first message = %+v, want status", got)
	}
	waitFor(t, "client registered", func() bool { return h.Clients() == before+1 })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestInitialStatus(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{status: voicemode.StatusEvent{Status: voicemode.StatusListening, Enabled: true}}
	srv := httptest.NewServer(New(voice, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	got := read(t, conn)
	if got.Type != TypeStatus || got.Status != "listening" || !got.Enabled {
		t.Errorf("initial message = %+v", got)
	}
}

func TestEnableDisable(t *testing.T) {
	t.Parallel()

	h, voice, url := startHub(t, nil)
	conn := dial(t, h, url)

	send(t, conn, map[string]string{"type": TypeEnable})
	waitFor(t, "enable", func() bool { e, _ := voice.counts(); return e == 1 })

	send(t, conn, map[string]string{"type": TypeDisable})
	waitFor(t, "disable", func() bool { _, d := voice.counts(); return d == 1 })
}

func TestRun_ForwardsStatus(t *testing.T) {
	t.Parallel()

	h, voice, url := startHub(t, nil)
	conn := dial(t, h, url)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	waitFor(t, "subscription", func() bool { return voice.subscribers() == 1 })

	voice.emit(voicemode.StatusEvent{Status: voicemode.StatusError, Enabled: false})
	got := read(t, conn)
	if got.Type != TypeStatus || got.Status != "error" || got.Enabled {
		t.Errorf("status = %+v", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestRun_NewClientGetsLastBroadcastStatus(t *testing.T) {
	t.Parallel()

	h, voice, url := startHub(t, nil)
	observer := dial(t, h, url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()
	waitFor(t, "subscription", func() bool { return voice.subscribers() == 1 })

	voice.emit(voicemode.StatusEvent{Status: voicemode.StatusListening, Enabled: true})
	if got := read(t, observer); got.Status != "listening" {
		t.Fatalf("observer status = %+v", got)
	}

	// The controller moved on, but Run has not seen the event yet.
	voice.setStatus(voicemode.StatusEvent{Status: voicemode.StatusRecording, Enabled: true})

	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dcancel()
	late, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer late.CloseNow()
	if got := read(t, late); got.Type != TypeStatus || got.Status != "listening" {
		t.Fatalf("first status = %+v, want the last broadcast (listening)", got)
	}

	voice.emit(voicemode.StatusEvent{Status: voicemode.StatusRecording, Enabled: true})
	if got := read(t, late); got.Status != "recording" {
		t.Errorf("next status = %+v, want recording", got)
	}
}

func TestBroadcasts(t *testing.T) {
	t.Parallel()

	h, _, url := startHub(t, nil)
	a := dial(t, h, url)
	b := dial(t, h, url)

	h.Transcript(voicemode.Transcript{ID: "u1", Text: "turn on the lights"})
	h.Error(voicemode.MsgTranscriptionFailed)

	for _, conn := range []*websocket.Conn{a, b} {
		if got := read(t, conn); got.Type != TypeTranscript || got.ID != "u1" || got.Text != "turn on the lights" {
			t.Errorf("transcript = %+v", got)
		}
		if got := read(t, conn); got.Type != TypeError || got.Message != voicemode.MsgTranscriptionFailed {
			t.Errorf("error = %+v", got)
		}
	}
}

func TestHold(t *testing.T) {
	t.Parallel()

	h, _, url := startHub(t, nil)
	a := dial(t, h, url)
	b := dial(t, h, url)

	send(t, a, map[string]any{"type": TypeHold, "hold": true})
	waitFor(t, "hold", h.Held)

	send(t, b, map[string]any{"type": TypeHold, "hold": false})
	// b releasing its own hold leaves a's in place.
	time.Sleep(20 * time.Millisecond)
	if !h.Held() {
		t.Error("hold released by a client that never held")
	}

	// A disconnecting client drops its hold.
	a.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "hold released", func() bool { return !h.Held() })
	waitFor(t, "client removed", func() bool { return h.Clients() == 1 })
}

func TestSpeak(t *testing.T) {
	t.Parallel()

	spk := &fakeSpeaker{}
	h, _, url := startHub(t, spk)
	conn := dial(t, h, url)

	send(t, conn, map[string]string{"type": TypeSpeak, "id": "r1", "text": "Sure, done."})
	if got := read(t, conn); got.Type != TypeSpeaking || got.ID != "r1" {
		t.Errorf("ack = %+v", got)
	}

	send(t, conn, map[string]string{"type": TypeStopSpeaking})
	waitFor(t, "interrupt", func() bool { _, i := spk.snapshot(); return len(i) == 1 })

	reqs, interrupts := spk.snapshot()
	if len(reqs) != 1 || reqs[0].Text != "Sure, done." || reqs[0].Priority != 0 {
		t.Errorf("requests = %+v", reqs)
	}
	if interrupts[0] != audio.Stopped {
		t.Errorf("interrupt reason = %v, want stopped", interrupts[0])
	}
}

func TestSpeak_Priority(t *testing.T) {
	t.Parallel()

	spk := &fakeSpeaker{}
	h, _, url := startHub(t, spk)
	conn := dial(t, h, url)

	send(t, conn, map[string]any{"type": TypeSpeak, "id": "r2", "text": "Urgent.", "priority": 3})
	if got := read(t, conn); got.Type != TypeSpeaking || got.ID != "r2" {
		t.Fatalf("ack = %+v", got)
	}
	if reqs, _ := spk.snapshot(); len(reqs) != 1 || reqs[0].Priority != 3 {
		t.Errorf("requests = %+v, want priority 3", reqs)
	}
}

func TestSpeak_FailureAfterAck(t *testing.T) {
	t.Parallel()

	spk := &fakeSpeaker{failLater: errors.New("stream dropped")}
	h, _, url := startHub(t, spk)
	conn := dial(t, h, url)

	send(t, conn, map[string]string{"type": TypeSpeak, "id": "r3", "text": "hi"})
	// The ack and the failure race; both must arrive.
	var sawAck, sawErr bool
	for range 2 {
		switch got := read(t, conn); got.Type {
		case TypeSpeaking:
			sawAck = got.ID == "r3"
		case TypeError:
			sawErr = got.ID == "r3" && got.Message == MsgSpeakFailed
		default:
			t.Fatalf("unexpected message %+v", got)
		}
	}
	if !sawAck || !sawErr {
		t.Errorf("ack=%v error=%v, want both for r3", sawAck, sawErr)
	}
}

func TestSpeak_DoesNotBlockCommands(t *testing.T) {
	t.Parallel()

	spk := &fakeSpeaker{gate: make(chan struct{})}
	h, voice, url := startHub(t, spk)
	conn := dial(t, h, url)

	send(t, conn, map[string]string{"type": TypeSpeak, "id": "r4", "text": "slow start"})
	send(t, conn, map[string]string{"type": TypeDisable})
	send(t, conn, map[string]string{"type": TypeStopSpeaking})
	waitFor(t, "disable while speak pending", func() bool { _, d := voice.counts(); return d == 1 })
	waitFor(t, "stop while speak pending", func() bool { _, i := spk.snapshot(); return len(i) == 1 })

	close(spk.gate)
	if got := read(t, conn); got.Type != TypeSpeaking || got.ID != "r4" {
		t.Errorf("ack = %+v", got)
	}
}

func TestSpeak_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		speaker Speaker
		want    string
	}{
		{"no speaker", nil, MsgSpeakUnavailable},
		{"synthesis fails", &fakeSpeaker{err: errors.New("quota")}, MsgSpeakFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, _, url := startHub(t, tt.speaker)
			conn := dial(t, h, url)
			send(t, conn, map[string]string{"type": TypeSpeak, "text": "hi"})
			if got := read(t, conn); got.Type != TypeError || got.Message != tt.want {
				t.Errorf("reply = %+v, want error %q", got, tt.want)
			}
		})
	}
}

func TestBadMessages(t *testing.T) {
	t.Parallel()

	h, _, url := startHub(t, nil)
	conn := dial(t, h, url)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
	if got := read(t, conn); got.Type != TypeError || got.Message != "malformed message" {
		t.Errorf("malformed reply = %+v", got)
	}

	send(t, conn, map[string]string{"type": "dance"})
	if got := read(t, conn); got.Type != TypeError || got.Message != "unknown message type" {
		t.Errorf("unknown reply = %+v", got)
	}

	_ = conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})
	if got := read(t, conn); got.Type != TypeError {
		t.Errorf("binary reply = %+v", got)
	}
}

func TestClose_DisconnectsClients(t *testing.T) {
	t.Parallel()

	h, _, url := startHub(t, nil)
	conn := dial(t, h, url)

	go func() { _ = h.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Errorf("close status = %v (err %v), want going away", status, err)
	}
	waitFor(t, "clients drained", func() bool { return h.Clients() == 0 })
}

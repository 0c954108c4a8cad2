package voicemode

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/audio/wav"
)

func TestWAVEncoder_FinishProducesClip(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 1}
	enc, err := NewWAVEncoder(f)
	if err != nil {
		t.Fatalf("NewWAVEncoder: %v", err)
	}
	if enc.MediaType() != wav.MediaType {
		t.Errorf("MediaType = %q", enc.MediaType())
	}

	chunk := constantPCM(1000, 800) // 50 ms
	for range 2 {
		if err := enc.Write(chunk); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	clip, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if clip.Len() != wav.HeaderSize+2*len(chunk) {
		t.Errorf("clip size = %d, want %d", clip.Len(), wav.HeaderSize+2*len(chunk))
	}
	if clip.MediaType != wav.MediaType || clip.Format != f {
		t.Errorf("clip metadata = %q %+v", clip.MediaType, clip.Format)
	}
	if clip.Duration != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", clip.Duration)
	}

	pcm, got, err := wav.Decode(clip.Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != f || !bytes.Equal(pcm, append(chunk, chunk...)) {
		t.Error("decoded PCM does not match the written audio")
	}
}

func TestWAVEncoder_DoneStates(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 1}

	enc, _ := NewWAVEncoder(f)
	if _, err := enc.Finish(); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if _, err := enc.Finish(); !errors.Is(err, errEncoderDone) {
		t.Errorf("second Finish err = %v", err)
	}
	if err := enc.Write([]byte{0, 0}); !errors.Is(err, errEncoderDone) {
		t.Errorf("Write after Finish err = %v", err)
	}

	aborted, _ := NewWAVEncoder(f)
	_ = aborted.Write([]byte{1, 2})
	aborted.Abort()
	aborted.Abort()
	if _, err := aborted.Finish(); !errors.Is(err, errEncoderDone) {
		t.Errorf("Finish after Abort err = %v", err)
	}
}

func TestNewWAVEncoder_InvalidFormat(t *testing.T) {
	t.Parallel()
	if _, err := NewWAVEncoder(audio.Format{}); err == nil {
		t.Error("expected error for zero format")
	}
}

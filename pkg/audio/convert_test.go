package audio_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/handsfree/pkg/audio"
)

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	audio.BytesToInt16(out, b)
	return out
}

func TestChannelConversion(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]byte) []byte
		in   []int16
		want []int16
	}{
		{"mono to stereo", audio.MonoToStereo, []int16{100, 200, 300}, []int16{100, 100, 200, 200, 300, 300}},
		{"stereo to mono", audio.StereoToMono, []int16{100, 200, -100, -200}, []int16{150, -150}},
		{"stereo to mono clamps", audio.StereoToMono, []int16{32767, 32767}, []int16{32767}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := samples(tt.fn(audio.Int16ToBytes(tt.in)))
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownmixToMono(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		in       []int16
		want     []int16
	}{
		{"mono unchanged", 1, []int16{5, -5}, []int16{5, -5}},
		{"quad", 4, []int16{100, 200, 300, 400, -40, -40, -40, -40}, []int16{250, -40}},
		{"5.1 drops partial frame", 6, []int16{60, 60, 60, 60, 60, 60, 1, 2}, []int16{60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := samples(audio.DownmixToMono(audio.Int16ToBytes(tt.in), tt.channels))
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonoToStereo_IgnoresTrailingByte(t *testing.T) {
	out := audio.MonoToStereo([]byte{0x64, 0x00, 0xC8, 0x00, 0xFF})
	if got := samples(out); !slices.Equal(got, []int16{100, 100, 200, 200}) {
		t.Errorf("got %v", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Run("upsample", func(t *testing.T) {
		got := samples(audio.ResampleMono16(audio.Int16ToBytes([]int16{1000, 2000}), 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("len = %d, want 6", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first = %d, want 1000", got[0])
		}
		if last := got[len(got)-1]; last < 1800 || last > 2200 {
			t.Errorf("last = %d, want ~2000", last)
		}
	})
	t.Run("downsample", func(t *testing.T) {
		got := audio.ResampleMono16(audio.Int16ToBytes([]int16{1, 2, 3, 4, 5, 6}), 48000, 16000)
		if len(got) != 4 {
			t.Errorf("len = %d bytes, want 4", len(got))
		}
	})
	t.Run("invalid rates pass through", func(t *testing.T) {
		pcm := audio.Int16ToBytes([]int16{100, 200})
		for _, r := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}, {16000, 16000}} {
			if out := audio.ResampleMono16(pcm, r[0], r[1]); len(out) != len(pcm) {
				t.Errorf("rates %v: len = %d, want %d", r, len(out), len(pcm))
			}
		}
	})
}

func TestFormatConverter(t *testing.T) {
	t.Run("matching format is zero-copy", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		in := audio.AudioFrame{Data: audio.Int16ToBytes([]int16{1, 2}), SampleRate: 16000, Channels: 1}
		out := conv.Convert(in)
		if &out.Data[0] != &in.Data[0] {
			t.Error("expected the input slice to be returned")
		}
	})

	t.Run("48k stereo to 16k mono", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		// 6 stereo frames at 48 kHz become 2 mono samples at 16 kHz.
		in := audio.AudioFrame{
			Data:       audio.Int16ToBytes([]int16{10, 30, 10, 30, 10, 30, 10, 30, 10, 30, 10, 30}),
			SampleRate: 48000,
			Channels:   2,
			Timestamp:  time.Second,
		}
		out := conv.Convert(in)
		if out.SampleRate != 16000 || out.Channels != 1 {
			t.Fatalf("format = %d/%d", out.SampleRate, out.Channels)
		}
		if got := samples(out.Data); !slices.Equal(got, []int16{20, 20}) {
			t.Errorf("samples = %v, want [20 20]", got)
		}
		if out.Timestamp != time.Second {
			t.Errorf("timestamp = %v, want 1s", out.Timestamp)
		}
	})

	t.Run("four channels to mono", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		in := audio.AudioFrame{
			Data:       audio.Int16ToBytes([]int16{0, 400, 800, 1200, 100, 100, 100, 100}),
			SampleRate: 16000,
			Channels:   4,
		}
		out := conv.Convert(in)
		if got := samples(out.Data); !slices.Equal(got, []int16{600, 100}) {
			t.Errorf("samples = %v, want [600 100]", got)
		}
	})

	t.Run("16k mono to 48k stereo", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		out := conv.Convert(audio.AudioFrame{Data: audio.Int16ToBytes([]int16{1000, 2000}), SampleRate: 16000, Channels: 1})
		got := samples(out.Data)
		if len(got) != 12 {
			t.Fatalf("samples = %d, want 12", len(got))
		}
		if got[0] != got[1] {
			t.Errorf("L/R differ: %d vs %d", got[0], got[1])
		}
	})

	t.Run("odd byte count dropped", func(t *testing.T) {
		conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		out := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if len(out.Data) != 0 {
			t.Errorf("data = %d bytes, want 0", len(out.Data))
		}
		if out.SampleRate != 16000 || out.Channels != 1 {
			t.Errorf("dropped frame should carry target format, got %d/%d", out.SampleRate, out.Channels)
		}
	})
}

func TestFormat_Duration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

func TestBytesToInt16_NoOverflow(t *testing.T) {
	dst := make([]int16, 2)
	n := audio.BytesToInt16(dst, audio.Int16ToBytes([]int16{1, 2, 3, 4}))
	if n != 2 || dst[0] != 1 || dst[1] != 2 {
		t.Errorf("n=%d dst=%v", n, dst)
	}
}

func TestInterruptReason(t *testing.T) {
	tests := []struct {
		reason audio.InterruptReason
		str    string
		clears bool
	}{
		{audio.UserSpeech, "user_speech", true},
		{audio.Superseded, "superseded", false},
		{audio.Stopped, "stopped", true},
		{audio.InterruptReason(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
		if got := tt.reason.ClearsQueue(); got != tt.clears {
			t.Errorf("%s ClearsQueue() = %v, want %v", tt.str, got, tt.clears)
		}
	}
}

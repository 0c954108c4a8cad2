package voicemode

import "time"

// StopRatio scales the start threshold into the lower stop threshold used
// while recording, so trailing syllables do not cut a recording short.
const StopRatio = 0.6

// Default detector settings.
const (
	DefaultAmplitudeThreshold = 0.025
	DefaultMinSpeech          = 180 * time.Millisecond
	DefaultMinSilence         = 720 * time.Millisecond
)

// Decision is the outcome of one [Decide] call.
type Decision int

const (
	// NoChange means the recording state stays as it is.
	NoChange Decision = iota

	// StartRecording means sustained speech was confirmed.
	StartRecording

	// StopRecording means sustained silence ended the utterance.
	StopRecording
)

// String returns a short name for the decision.
func (d Decision) String() string {
	switch d {
	case NoChange:
		return "none"
	case StartRecording:
		return "start_recording"
	case StopRecording:
		return "stop_recording"
	default:
		return "unknown"
	}
}

// VADConfig holds the detector thresholds for one session.
type VADConfig struct {
	// Threshold is the normalized RMS at or above which a reading counts as
	// speech while not recording.
	Threshold float64

	// MinSpeech is how long energy must stay at or above Threshold before a
	// recording starts.
	MinSpeech time.Duration

	// MinSilence is how long energy must stay below Threshold×StopRatio before
	// a recording stops.
	MinSilence time.Duration

	// TickInterval is the nominal spacing of readings. A reading never stands
	// for more than one interval, so a late tick cannot credit a single
	// reading with the whole gap. Zero leaves the credit uncapped.
	TickInterval time.Duration
}

// DefaultVADConfig returns the default detector settings.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:  DefaultAmplitudeThreshold,
		MinSpeech:  DefaultMinSpeech,
		MinSilence: DefaultMinSilence,
	}
}

func (c VADConfig) withDefaults() VADConfig {
	def := DefaultVADConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = def.MinSpeech
	}
	if c.MinSilence <= 0 {
		c.MinSilence = def.MinSilence
	}
	return c
}

// StopThreshold returns the hysteresis threshold used while recording.
func (c VADConfig) StopThreshold() float64 {
	return c.Threshold * StopRatio
}

// VADState carries the detector timers between ticks. The zero value is ready
// to use.
//
// Only one of SpeechStartedAt and SilenceStartedAt is meaningful at a time:
// the first while no recording is open, the second while one is.
type VADState struct {
	SpeechStartedAt  time.Time
	SilenceStartedAt time.Time

	// LastTickAt is the time of the previous reading. Each reading stands for
	// the interval since then, at most [VADConfig.TickInterval], so a timer
	// started on this tick is stamped with LastTickAt.
	LastTickAt time.Time
}

// Reset clears both timers. The tick history is kept so the next interval is
// still attributed correctly.
func (s *VADState) Reset() {
	s.SpeechStartedAt = time.Time{}
	s.SilenceStartedAt = time.Time{}
}

// Decide classifies one energy reading taken at now. recording reports whether
// a recording is open; hold suppresses [StartRecording] (and discards any
// partial speech run) without affecting silence accumulation.
//
// Decide performs no I/O and mutates only st.
func Decide(cfg VADConfig, st *VADState, energy float64, now time.Time, recording, hold bool) Decision {
	mark := st.LastTickAt
	if mark.IsZero() || mark.After(now) {
		mark = now
	}
	if cfg.TickInterval > 0 {
		if floor := now.Add(-cfg.TickInterval); mark.Before(floor) {
			mark = floor
		}
	}
	st.LastTickAt = now

	if !recording {
		if energy < cfg.Threshold || hold {
			st.SpeechStartedAt = time.Time{}
			return NoChange
		}
		if st.SpeechStartedAt.IsZero() {
			st.SpeechStartedAt = mark
		}
		if now.Sub(st.SpeechStartedAt) >= cfg.MinSpeech {
			st.Reset()
			return StartRecording
		}
		return NoChange
	}

	if energy >= cfg.StopThreshold() {
		st.SilenceStartedAt = time.Time{}
		return NoChange
	}
	if st.SilenceStartedAt.IsZero() {
		st.SilenceStartedAt = mark
	}
	if now.Sub(st.SilenceStartedAt) >= cfg.MinSilence {
		st.Reset()
		return StopRecording
	}
	return NoChange
}

package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/handsfree/internal/observe"
	"github.com/MrWong99/handsfree/pkg/audio"
	"github.com/MrWong99/handsfree/pkg/provider/transcribe"
)

var _ transcribe.Provider = (*Transcriber)(nil)

// Transcriber is a [transcribe.Provider] that fails over across several
// gateways. A clip without speech or a cancelled request is an answer, not a
// gateway failure: it is returned immediately and never trips a breaker.
type Transcriber struct {
	group   *FallbackGroup[transcribe.Provider]
	metrics *observe.Metrics
}

// NewTranscriber creates a Transcriber with primary as the preferred gateway.
// A nil metrics uses [observe.DefaultMetrics].
func NewTranscriber(primary transcribe.Provider, primaryName string, cb CircuitBreakerConfig, metrics *observe.Metrics) *Transcriber {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	cb.IsFailure = isGatewayFailure
	return &Transcriber{
		group: NewFallbackGroup(primary, primaryName, FallbackConfig{
			CircuitBreaker: cb,
			IsFinal:        isAnswer,
		}),
		metrics: metrics,
	}
}

// AddFallback registers another gateway, tried after those already added.
func (t *Transcriber) AddFallback(name string, p transcribe.Provider) {
	t.group.AddFallback(name, p)
}

// States reports each gateway's breaker state.
func (t *Transcriber) States() map[string]State { return t.group.States() }

// Transcribe implements [transcribe.Provider].
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	return ExecuteWithResult(t.group, func(name string, p transcribe.Provider) (string, error) {
		text, err := p.Transcribe(ctx, clip)
		switch {
		case err == nil, errors.Is(err, transcribe.ErrNoSpeech):
			t.metrics.RecordProviderRequest(ctx, name, "transcribe", "ok")
		default:
			t.metrics.RecordProviderRequest(ctx, name, "transcribe", "error")
			if isGatewayFailure(err) {
				t.metrics.RecordProviderError(ctx, name, "transcribe")
			}
		}
		return text, err
	})
}

// isAnswer reports outcomes that end the chain.
func isAnswer(err error) bool {
	return errors.Is(err, transcribe.ErrNoSpeech) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isGatewayFailure(err error) bool {
	return err != nil && !isAnswer(err)
}

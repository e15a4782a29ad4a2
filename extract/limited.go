package extract

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/pulse/async"
)

// Limited rate-limits probes against the upstream. Extract passes through.
type Limited struct {
	async.Extractor
	limiter *rate.Limiter
}

// NewLimited wraps next with a limiter of perSecond probes and the given
// burst. A non-positive rate disables limiting.
func NewLimited(next async.Extractor, perSecond float64, burst int) async.Extractor {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{Extractor: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Probe waits for a limiter token, then probes
func (l *Limited) Probe(ctx context.Context, key string) (*async.Metadata, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, errors.MarkTransient(errors.Wrapf(err, "probe %s: rate limited", key))
	}
	return l.Extractor.Probe(ctx, key)
}

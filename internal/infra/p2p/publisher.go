package p2p

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/txrecover/internal/core/codec"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/resync/metrics"
	"github.com/vietddude/txrecover/internal/resync/recovery"
)

// Publisher delivers one envelope per call as a single-payload push batch.
type Publisher struct {
	client   Client
	protocol string
	limiter  *rate.Limiter
	timeout  time.Duration
}

var _ recovery.Publisher = (*Publisher)(nil)

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithRateLimit caps publishes per second. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) PublisherOption {
	return func(p *Publisher) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout bounds each publish call.
func WithTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// NewPublisher creates a publisher. protocol only labels metrics.
func NewPublisher(client Client, protocol string, opts ...PublisherOption) *Publisher {
	p := &Publisher{client: client, protocol: protocol}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, endpoint string, env *domain.Envelope, recipient domain.PublicKey) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish rate limit: %w", err)
		}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.client.PushBatch(ctx, endpoint, recovery.PushBatchRequest{
		EncodedPayloads: [][]byte{codec.Encode(env)},
	})

	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.PublishLatency.WithLabelValues(p.protocol, result).Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("failed to push to %s for %s: %w", endpoint, recipient.Short(), err)
	}
	return nil
}

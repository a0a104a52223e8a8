package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/kgindex/pkg/config"
	"github.com/soundprediction/kgindex/pkg/types"
)

// BreakerExtractor wraps an Extractor with circuit breaking so a failing
// extraction endpoint sheds load quickly instead of stalling every worker
// until its per-chunk timeout.
type BreakerExtractor struct {
	extractor Extractor
	cb        *gobreaker.CircuitBreaker
}

// NewBreakerExtractor creates a circuit-breaking wrapper.
func NewBreakerExtractor(extractor Extractor, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerExtractor {
	if logger == nil {
		logger = slog.Default()
	}

	st := gobreaker.Settings{
		Name:        "extraction",
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("extraction circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &BreakerExtractor{
		extractor: extractor,
		cb:        gobreaker.NewCircuitBreaker(st),
	}
}

// Extract implements Extractor.
func (b *BreakerExtractor) Extract(ctx context.Context, text string) (*types.Extraction, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.extractor.Extract(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("extraction unavailable: %w", err)
	}
	return result.(*types.Extraction), nil
}

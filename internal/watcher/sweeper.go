package watcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/generator"
	"github.com/edvin/certkeeper/internal/model"
)

type certGenerator interface {
	Generate(ctx context.Context, domain, certType string) (*generator.Result, error)
}

type expiringLister interface {
	ListExpiring(ctx context.Context, within time.Duration) ([]model.Certificate, error)
}

// Sweeper periodically re-generates auto-renew certificates whose not_after
// has entered the renewal margin. Renewal writes flow through the store and
// therefore wake the watchers like any other change.
type Sweeper struct {
	store     expiringLister
	generator certGenerator
	margin    time.Duration
	interval  time.Duration
	logger    zerolog.Logger
}

func NewSweeper(st expiringLister, gen certGenerator, margin, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: st, generator: gen, margin: margin, interval: interval, logger: logger}
}

// Run sweeps immediately and then on every tick until cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expiring, err := s.store.ListExpiring(ctx, s.margin)
	if err != nil {
		s.logger.Error().Err(err).Msg("renewal sweep: listing expiring certificates failed")
		return
	}
	if len(expiring) == 0 {
		return
	}

	s.logger.Info().Int("count", len(expiring)).Msg("renewal sweep: certificates inside margin")

	for _, cert := range expiring {
		// The generator counts its own outcomes, operator rotations included.
		result, err := s.generator.Generate(ctx, cert.Domain, cert.Type)
		if err != nil {
			s.logger.Error().Err(err).Str("domain", cert.Domain).Str("type", cert.Type).
				Msg("renewal sweep: generation failed")
			// Continue renewing other certificates even if one fails.
			continue
		}
		if result.Fallback {
			s.logger.Warn().Str("domain", cert.Domain).Str("type", cert.Type).
				Msg("renewal sweep: renewed on self-signed fallback")
		}
	}
}

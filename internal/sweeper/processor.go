package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Processor struct {
	service  *Service
	interval time.Duration // Time between sweep attempts
}

func NewProcessor(service *Service, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Processor{
		service:  service,
		interval: interval,
	}
}

// Start begins the periodic sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "sweep_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting limit order sweep processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down sweep processor")
			return
		case <-ticker.C:
			if _, err := p.service.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

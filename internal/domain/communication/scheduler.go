package communication

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler drives escalation by re-evaluating the predicate on a fixed tick.
// There are no in-memory timers to lose on restart: the persisted sent_at and
// delay are the whole schedule.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	log      zerolog.Logger
}

func NewScheduler(svc *Service, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{svc: svc, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, sweeping due escalations every interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.interval).Msg("escalation scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("escalation scheduler stopped")
			return
		case now := <-ticker.C:
			created, err := s.svc.EscalateDue(ctx, now.UTC())
			if err != nil {
				s.log.Error().Err(err).Msg("escalation sweep failed")
				continue
			}
			if len(created) > 0 {
				s.log.Info().Int("escalated", len(created)).Msg("escalation sweep complete")
			}
		}
	}
}

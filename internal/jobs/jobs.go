// Package jobs schedules the routing engine's periodic maintenance work —
// idle-registration GC and event retention — on a robfig/cron scheduler,
// the same background-job library the teacher's go.mod carries.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cahoots-org/contex/internal/logging"
	"github.com/cahoots-org/contex/internal/registry"
)

// Scheduler owns the cron runner for the engine's maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
}

// New builds a Scheduler. Jobs are added via AddIdleRegistrationGC and
// AddEventRetentionSweep before calling Start.
func New(log *logging.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), log: log}
}

// AddIdleRegistrationGC removes registrations that haven't been acked or
// dispatched to in idleAfter, once per day.
func (s *Scheduler) AddIdleRegistrationGC(reg registry.Registry, idleAfter time.Duration) error {
	_, err := s.cron.AddFunc("@daily", func() {
		expired, err := reg.ExpireIdle(context.Background(), idleAfter)
		if err != nil {
			if s.log != nil {
				s.log.WithField("error", err.Error()).Warn("idle registration GC failed")
			}
			return
		}
		if len(expired) > 0 && s.log != nil {
			s.log.WithField("count", len(expired)).Info("expired idle registrations")
		}
	})
	return err
}

// RetentionSweeper deletes event log records older than a cutoff. The
// Event Log contract doesn't require this operation of every backend, so
// it's expressed as a narrow interface the Postgres store satisfies.
type RetentionSweeper interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AddEventRetentionSweep deletes events older than retention, once per day.
func (s *Scheduler) AddEventRetentionSweep(sweeper RetentionSweeper, retention time.Duration) error {
	_, err := s.cron.AddFunc("@daily", func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := sweeper.DeleteOlderThan(context.Background(), cutoff)
		if err != nil {
			if s.log != nil {
				s.log.WithField("error", err.Error()).Warn("event retention sweep failed")
			}
			return
		}
		if n > 0 && s.log != nil {
			s.log.WithField("count", n).Info("swept retained events")
		}
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

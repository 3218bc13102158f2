// Package worker runs the background jobs of the call service.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tutorcall-backend/pkg/logger"
)

const sweepTimeout = 30 * time.Second

// Sweepable is satisfied by *video.Service
type Sweepable interface {
	SweepUnanswered(ctx context.Context, ringTimeout time.Duration) (int, error)
}

// Sweeper marks unanswered calls as missed on a cron schedule
type Sweeper struct {
	calls       Sweepable
	ringTimeout time.Duration
	cron        *cron.Cron
}

// NewSweeper validates schedule, which accepts standard five-field
// expressions and descriptors such as "@every 15s".
func NewSweeper(calls Sweepable, schedule string, ringTimeout time.Duration) (*Sweeper, error) {
	s := &Sweeper{calls: calls, ringTimeout: ringTimeout}

	cl := cronLogger{}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background
func (s *Sweeper) Start() {
	logger.Info("Missed-call sweeper started", zap.Duration("ring_timeout", s.ringTimeout))
	s.cron.Start()
}

// Stop waits for a running sweep to finish or ctx to expire
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		logger.Warn("Sweeper stop timed out")
	}
}

// RunOnce performs one sweep and returns the number of calls marked missed
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.calls.SweepUnanswered(ctx, s.ringTimeout)
	if err != nil {
		return n, err
	}
	if n > 0 {
		logger.Info("Marked unanswered calls as missed", zap.Int("count", n))
	}
	return n, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		logger.Error("Missed-call sweep failed", zap.Error(err))
	}
}

// cronLogger routes cron's own logging to zap
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Sugar.Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

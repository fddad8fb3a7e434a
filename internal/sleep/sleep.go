// Package sleep wakes the companion after a nap and puts it to sleep on a
// schedule.
package sleep

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"companion/internal/bus"
	"companion/internal/events"
	"companion/pkg/match"
)

type Config struct {
	// Nap is how long a sleep lasts unless woken first. Zero sleeps until woken.
	Nap time.Duration
	// SleepAt and WakeAt are standard five-field cron expressions.
	SleepAt string
	WakeAt  string
}

type stopper interface{ Stop() bool }

type Scheduler struct {
	bus  *bus.Bus
	nap  time.Duration
	cron *cron.Cron
	sub  *bus.Subscription

	// afterFunc is replaced in tests
	afterFunc func(time.Duration, func()) stopper

	mu    sync.Mutex
	ctx   context.Context
	alarm stopper
}

func New(b *bus.Bus, cfg Config) (*Scheduler, error) {
	s := &Scheduler{
		bus:  b,
		nap:  cfg.Nap,
		cron: cron.New(),
		ctx:  context.Background(),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}

	for cmd, spec := range map[events.Command]string{events.CommandSleep: cfg.SleepAt, events.CommandWake: cfg.WakeAt} {
		if spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(spec, func() { s.post(cmd) }); err != nil {
			return nil, fmt.Errorf("schedule %s at %q: %w", cmd, spec, err)
		}
	}

	filter := events.CommandFilter{Command: match.OneOf(events.CommandSleep, events.CommandWake)}
	sub, err := bus.On(b, filter, s.onCommand)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

// Run drives the schedule until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.cancelAlarm()
	s.mu.Unlock()
	s.bus.Unsubscribe(s.sub)
	return nil
}

func (s *Scheduler) post(cmd events.Command) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	log.Info("Scheduled command", "command", cmd)
	if err := s.bus.Post(ctx, events.CommandEvent{Command: cmd}); err != nil {
		log.Debug("Scheduled command dropped", "command", cmd, "err", err)
	}
}

func (s *Scheduler) onCommand(_ context.Context, e events.CommandEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelAlarm()
	if e.Command == events.CommandSleep && s.nap > 0 {
		s.alarm = s.afterFunc(s.nap, func() { s.post(events.CommandWake) })
		log.Debug("Wake up scheduled", "in", s.nap)
	}
	return nil
}

func (s *Scheduler) cancelAlarm() {
	if s.alarm != nil {
		s.alarm.Stop()
		s.alarm = nil
	}
}

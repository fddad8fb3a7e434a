package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/bus"
	"companion/internal/events"
)

type fakeAlarm struct {
	after   time.Duration
	fire    func()
	stopped bool
}

func (a *fakeAlarm) Stop() bool { a.stopped = true; return true }

func newScheduler(t *testing.T, cfg Config) (*bus.Bus, *Scheduler, *[]*fakeAlarm) {
	t.Helper()
	b := bus.New()
	s, err := New(b, cfg)
	require.NoError(t, err)

	alarms := &[]*fakeAlarm{}
	s.afterFunc = func(d time.Duration, f func()) stopper {
		a := &fakeAlarm{after: d, fire: f}
		*alarms = append(*alarms, a)
		return a
	}
	return b, s, alarms
}

func pending(t *testing.T, b *bus.Bus) []events.Command {
	t.Helper()
	got := make(chan events.Command, 8)
	sub, err := bus.On(b, bus.TypeOf[events.CommandEvent](), func(_ context.Context, e events.CommandEvent) error {
		got <- e.Command
		return nil
	})
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	n := b.Stats().InboxDepth
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	var cmds []events.Command
	for range n {
		select {
		case c := <-got:
			cmds = append(cmds, c)
		case <-time.After(time.Second):
			t.Fatal("posted command not dispatched")
		}
	}
	return cmds
}

func TestNapWakesUp(t *testing.T) {
	b, _, alarms := newScheduler(t, Config{Nap: time.Hour})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, events.CommandEvent{Command: events.CommandSleep}))
	require.Len(t, *alarms, 1)
	assert.Equal(t, time.Hour, (*alarms)[0].after)

	(*alarms)[0].fire()
	assert.Equal(t, []events.Command{events.CommandWake}, pending(t, b))
}

func TestWakeCancelsNap(t *testing.T) {
	b, _, alarms := newScheduler(t, Config{Nap: time.Minute})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, events.CommandEvent{Command: events.CommandSleep}))
	require.NoError(t, b.Publish(ctx, events.CommandEvent{Command: events.CommandSleep}))
	require.Len(t, *alarms, 2)
	assert.True(t, (*alarms)[0].stopped, "second sleep restarts the nap")

	require.NoError(t, b.Publish(ctx, events.CommandEvent{Command: events.CommandWake}))
	assert.True(t, (*alarms)[1].stopped)
}

func TestNoNapSleepsUntilWoken(t *testing.T) {
	b, _, alarms := newScheduler(t, Config{})
	require.NoError(t, b.Publish(context.Background(), events.CommandEvent{Command: events.CommandSleep}))
	assert.Empty(t, *alarms)
}

func TestQuietHours(t *testing.T) {
	b, s, _ := newScheduler(t, Config{SleepAt: "0 23 * * *", WakeAt: "30 7 * * *"})

	entries := s.cron.Entries()
	require.Len(t, entries, 2)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	var fired []time.Time
	for _, e := range entries {
		fired = append(fired, e.Schedule.Next(now))
		e.Job.Run()
	}
	assert.ElementsMatch(t, []time.Time{
		time.Date(2026, 3, 1, 23, 0, 0, 0, time.Local),
		time.Date(2026, 3, 2, 7, 30, 0, 0, time.Local),
	}, fired)
	assert.ElementsMatch(t, []events.Command{events.CommandSleep, events.CommandWake}, pending(t, b))
}

func TestBadSchedule(t *testing.T) {
	_, err := New(bus.New(), Config{SleepAt: "every night"})
	assert.ErrorContains(t, err, "schedule sleep")
}

func TestRunStops(t *testing.T) {
	b, s, alarms := newScheduler(t, Config{Nap: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, b.Publish(context.Background(), events.CommandEvent{Command: events.CommandSleep}))
	cancel()
	require.NoError(t, <-done)
	require.Len(t, *alarms, 1)
	assert.True(t, (*alarms)[0].stopped)
	assert.Equal(t, 0, b.Stats().Subscriptions)
}

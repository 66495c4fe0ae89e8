package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdd_ValidatesSchedule(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("prune", "@hourly", noop))
	require.NoError(t, s.Add("fallback", Every(30*time.Second), noop))
	require.NoError(t, s.Add("nightly", "0 2 * * *", noop))
	require.Error(t, s.Add("bad", "not a schedule", noop))
	require.Error(t, s.Add("nil", "@hourly", nil))

	require.True(t, s.IsScheduled("prune"))
	require.False(t, s.IsScheduled("bad"))
	require.Len(t, s.Status(), 3)
}

func TestAdd_ReplacesExisting(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("job", "@hourly", noop))
	first := s.jobs["job"].entry
	require.NoError(t, s.Add("job", "@daily", noop))
	require.NotEqual(t, first, s.jobs["job"].entry)
	require.Equal(t, "@daily", s.jobs["job"].schedule)
	require.Len(t, s.cron.Entries(), 1)
}

func TestRemove(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("job", "@hourly", func(context.Context) error { return nil }))
	s.Remove("job")
	s.Remove("unknown")
	require.False(t, s.IsScheduled("job"))
	require.Empty(t, s.cron.Entries())
}

func TestTrigger_RunsAndRecordsStatus(t *testing.T) {
	s := New()
	var calls atomic.Int32
	done := make(chan struct{}, 2)

	require.NoError(t, s.Add("ok", "@hourly", func(context.Context) error {
		calls.Add(1)
		done <- struct{}{}
		return nil
	}))
	require.NoError(t, s.Add("fail", "@hourly", func(context.Context) error {
		done <- struct{}{}
		return errors.New("store unavailable")
	}))

	require.NoError(t, s.Trigger("ok"))
	require.NoError(t, s.Trigger("fail"))
	<-done
	<-done

	require.Eventually(t, func() bool {
		var okRan, failRecorded bool
		for _, st := range s.Status() {
			if st.Name == "ok" && !st.LastRun.IsZero() && !st.Running {
				okRan = true
			}
			if st.Name == "fail" && st.LastError == "store unavailable" && !st.Running {
				failRecorded = true
			}
		}
		return okRan && failRecorded
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, calls.Load())

	require.ErrorIs(t, s.Trigger("missing"), ErrNotScheduled)
}

func TestTrigger_RejectsOverlap(t *testing.T) {
	s := New()
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, s.Add("slow", "@hourly", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))

	require.NoError(t, s.Trigger("slow"))
	<-started
	require.ErrorIs(t, s.Trigger("slow"), ErrAlreadyRunning)
	close(release)

	require.NoError(t, s.Stop(context.Background()))
}

func TestStop_CancelsRunningJobs(t *testing.T) {
	s := New()
	started := make(chan struct{})
	var sawCancel atomic.Bool

	require.NoError(t, s.Add("wait", "@hourly", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))
	s.Start()

	require.NoError(t, s.Trigger("wait"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.True(t, sawCancel.Load())

	require.ErrorIs(t, s.Trigger("wait"), ErrStopped)
	require.ErrorIs(t, s.Add("late", "@hourly", func(context.Context) error { return nil }), ErrStopped)
}

func TestScheduledTickFires(t *testing.T) {
	s := New()
	fired := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", Every(time.Second), func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not fire")
	}
}

func TestValidateSchedule(t *testing.T) {
	require.NoError(t, ValidateSchedule("@every 5m"))
	require.NoError(t, ValidateSchedule("*/5 * * * *"))
	require.Error(t, ValidateSchedule("every five minutes"))
}

package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTime struct {
	sync.Mutex
	t time.Time
}

func (f *fakeTime) now() time.Time {
	f.Lock()
	defer f.Unlock()
	return f.t
}

func (f *fakeTime) after(d time.Duration) <-chan time.Time {
	f.Lock()
	f.t = f.t.Add(d)
	t := f.t
	f.Unlock()
	c := make(chan time.Time, 1)
	c <- t
	return c
}

func scheduler(t *testing.T, spec string, jobs ...Job) (*Scheduler, *fakeTime) {
	s, err := New(spec, jobs...)
	require.NoError(t, err)
	ft := &fakeTime{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.Now = ft.now
	s.After = ft.after
	s.Logger = logger.Discard()
	return s, ft
}

func TestBadSpec(t *testing.T) {
	_, err := New("every so often")
	assert.Error(t, err)
}

func TestNext(t *testing.T) {
	s, err := New("@hourly")
	require.NoError(t, err)
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), s.Next(at))
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired []time.Time
	var s *Scheduler
	s, _ = scheduler(t, "@hourly", Job{
		Name: "record",
		F: func(ctx context.Context) error {
			fired = append(fired, s.now())
			return nil
		},
	})
	cycles := 0
	s.OnCycle = func(err error) {
		if cycles++; cycles < 3 {
			assert.NoError(t, err)
		} else {
			cancel()
		}
	}

	require.NoError(t, s.Run(ctx))
	assert.False(t, s.IsRunning())
	assert.Equal(t, []time.Time{
		time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
	}, fired)
}

func TestRunTwice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New("@hourly")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	require.True(t, s.Wait(time.Second))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Run(ctx), ErrAlreadyRunning)

	cancel()
	assert.NoError(t, <-done)
}

func TestNoNext(t *testing.T) {
	// A year that has passed.
	s, _ := scheduler(t, "0 0 0 1 1 * 2020")
	assert.ErrorIs(t, s.Run(context.Background()), ErrNoNext)
}

type fakeClient struct {
	fetchErr error
	calls    []string
}

func (c *fakeClient) FetchExperiments(ctx context.Context) error {
	c.calls = append(c.calls, "fetch")
	return c.fetchErr
}

func (c *fakeClient) ApplyPendingExperiments(ctx context.Context) ([]core.EnrollmentChangeEvent, error) {
	c.calls = append(c.calls, "apply")
	return nil, nil
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	c := &fakeClient{}
	s, _ := scheduler(t, "@hourly", Refresh(c)...)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, []string{"fetch", "apply"}, c.calls)

	// A failed fetch skips the apply.
	c = &fakeClient{fetchErr: errors.New("offline")}
	s.Jobs = Refresh(c)
	err := s.RunOnce(ctx)
	assert.ErrorContains(t, err, "fetch: offline")
	assert.Equal(t, []string{"fetch"}, c.calls)
}

func TestRunOnceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &fakeClient{}
	s, _ := scheduler(t, "@hourly", Refresh(c)...)
	assert.ErrorIs(t, s.RunOnce(ctx), context.Canceled)
	assert.Empty(t, c.calls)
}

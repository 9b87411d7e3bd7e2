package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAttempts struct {
	ticks  atomic.Int32
	syncs  atomic.Int32
	sweeps atomic.Int32
	idle   atomic.Int64
	fresh  atomic.Int64
	// block, when set, holds every periodic SyncAll until it is closed.
	block chan struct{}
}

func (f *fakeAttempts) Tick(context.Context) int {
	f.ticks.Add(1)
	return 0
}

func (f *fakeAttempts) SyncAll(_ context.Context, fresh time.Duration) int {
	f.fresh.Store(int64(fresh))
	f.syncs.Add(1)
	if f.block != nil && fresh > 0 {
		<-f.block
	}
	return 0
}

func (f *fakeAttempts) SweepIdle(_ context.Context, idle time.Duration) int {
	f.idle.Store(int64(idle))
	f.sweeps.Add(1)
	return 0
}

func TestTimerWorker_TicksAndSavesOnStop(t *testing.T) {
	fake := &fakeAttempts{}
	w := NewTimerWorker(fake, 30*time.Millisecond, zerolog.Nop())
	w.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return fake.ticks.Load() >= 3 && fake.syncs.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(15*time.Millisecond), fake.fresh.Load())

	syncsBefore := fake.syncs.Load()
	cancel()
	<-done
	assert.Greater(t, fake.syncs.Load(), syncsBefore)
	assert.Zero(t, fake.fresh.Load(), "shutdown flush saves every attempt")
}

func TestTimerWorker_SlowAutosaveKeepsClockRunning(t *testing.T) {
	fake := &fakeAttempts{block: make(chan struct{})}
	w := NewTimerWorker(fake, 20*time.Millisecond, zerolog.Nop())
	w.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return fake.syncs.Load() == 1 }, time.Second, 5*time.Millisecond)
	ticksDuringSave := fake.ticks.Load()
	assert.Eventually(t, func() bool {
		return fake.ticks.Load() >= ticksDuringSave+5
	}, time.Second, 5*time.Millisecond)

	cancel()
	close(fake.block)
	<-done
}

func TestIdleSweeper_RunsOnSchedule(t *testing.T) {
	fake := &fakeAttempts{}
	w := NewIdleSweeper(fake, "@every 1s", 10*time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return fake.sweeps.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, int64(10*time.Minute), fake.idle.Load())

	cancel()
	require.NoError(t, <-errc)
}

func TestIdleSweeper_InvalidSpec(t *testing.T) {
	w := NewIdleSweeper(&fakeAttempts{}, "not a spec", time.Minute, zerolog.Nop())
	assert.Error(t, w.Start(context.Background()))
}

func TestDecodeAutosave_FillsSnapshotID(t *testing.T) {
	id := uuid.NewString()
	job, err := decodeAutosave(`{"attempt_id":"` + id + `","student_id":3,"snapshot":{"time_remaining":12}}`)
	require.NoError(t, err)
	assert.Equal(t, id, job.Snapshot.AttemptID)
	assert.Equal(t, id, job.id.String())
	assert.Equal(t, 12, job.Snapshot.TimeRemaining)
}

func TestDecodeJobs_RejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"truncated json", "{"},
		{"not an object", `"hello"`},
		{"missing attempt id", `{"student_id":3}`},
		{"attempt id not a uuid", `{"attempt_id":"a1","student_id":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeAutosave(tt.raw)
			assert.ErrorIs(t, err, errInvalidJob)

			_, err = decodeSubmission(tt.raw)
			assert.ErrorIs(t, err, errInvalidJob)
		})
	}
}

func TestDecodeSubmission(t *testing.T) {
	id := uuid.NewString()
	job, err := decodeSubmission(`{"attempt_id":"` + id + `","student_id":7,"reason":"time_up"}`)
	require.NoError(t, err)
	assert.Equal(t, id, job.AttemptID)
	assert.Equal(t, 7, job.StudentID)
}

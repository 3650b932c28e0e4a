package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

type blockingJobs struct {
	started atomic.Int32
	release chan struct{}
}

func newBlockingJobs() *blockingJobs {
	return &blockingJobs{release: make(chan struct{})}
}

func (b *blockingJobs) build(subject string) Job[string] {
	return func(ctx context.Context) (string, error) {
		b.started.Add(1)
		<-b.release
		return subject, nil
	}
}

func TestStream_SingleFlight(t *testing.T) {
	loop := startLoop(t)
	jobs := newBlockingJobs()
	var applied []string
	stream := NewStream("test", loop, 0, jobs.build, func(subject, result string, err error) {
		applied = append(applied, result)
	})

	loop.Call(func() {
		stream.Start("A")
		stream.Trigger()
		stream.Trigger()
	})
	eventually(t, loop, "first fetch", func() bool { return jobs.started.Load() == 1 })

	var state StreamState
	var dropped uint64
	loop.Call(func() {
		state = stream.State()
		_, dropped, _ = stream.Stats()
	})
	if state != Fetching {
		t.Errorf("Expected Fetching state")
	}
	if dropped != 2 {
		t.Errorf("Expected 2 dropped triggers got %d", dropped)
	}

	close(jobs.release)
	eventually(t, loop, "result applied", func() bool { return len(applied) == 1 })
	loop.Call(func() { state = stream.State() })
	if state != Idle {
		t.Errorf("Expected Idle after completion")
	}
	if n := jobs.started.Load(); n != 1 {
		t.Errorf("Expected exactly one fetch, got %d", n)
	}
}

func TestStream_RefreshNowQueuesOneFollowUp(t *testing.T) {
	loop := startLoop(t)
	jobs := newBlockingJobs()
	var applied int
	stream := NewStream("test", loop, 0, jobs.build, func(string, string, error) { applied++ })

	loop.Call(func() {
		stream.Start("A")
		stream.RefreshNow()
		stream.RefreshNow()
		stream.RefreshNow()
	})
	close(jobs.release)

	eventually(t, loop, "follow-up applied", func() bool { return applied == 2 })
	time.Sleep(20 * time.Millisecond)

	var fetches uint64
	loop.Call(func() { fetches, _, _ = stream.Stats() })
	if fetches != 2 || jobs.started.Load() != 2 {
		t.Errorf("Expected 2 fetches got %d (%d started)", fetches, jobs.started.Load())
	}
}

func TestStream_RestartDiscardsStaleResult(t *testing.T) {
	loop := startLoop(t)
	releaseA := make(chan struct{})
	var applied []string
	build := func(subject string) Job[string] {
		return func(ctx context.Context) (string, error) {
			if subject == "A" {
				<-releaseA
			}
			return subject, nil
		}
	}
	stream := NewStream("test", loop, 0, build, func(subject, result string, err error) {
		applied = append(applied, result)
	})

	loop.Call(func() { stream.Start("A") })
	loop.Call(func() { stream.Start("B") })
	eventually(t, loop, "B applied", func() bool { return len(applied) == 1 })

	close(releaseA)
	eventually(t, loop, "A discarded", func() bool {
		_, _, stale := stream.Stats()
		return stale == 1
	})
	loop.Call(func() {
		if !reflect.DeepEqual(applied, []string{"B"}) {
			t.Errorf("Expected only B applied, got %v", applied)
		}
	})
}

func TestStream_StopCancelsWorkerContext(t *testing.T) {
	loop := startLoop(t)
	cancelled := make(chan struct{})
	build := func(string) Job[string] {
		return func(ctx context.Context) (string, error) {
			<-ctx.Done()
			close(cancelled)
			return "", ctx.Err()
		}
	}
	var applied int
	stream := NewStream("test", loop, 0, build, func(string, string, error) { applied++ })

	loop.Call(func() { stream.Start("A") })
	loop.Call(func() { stream.Stop() })

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Expected worker context to be cancelled")
	}
	eventually(t, loop, "stale discard", func() bool {
		_, _, stale := stream.Stats()
		return stale == 1
	})
	loop.Call(func() {
		if applied != 0 {
			t.Errorf("Expected no result applied after Stop")
		}
	})
}

func TestStream_FailureKeepsPeriodicTimer(t *testing.T) {
	loop := startLoop(t)
	var calls atomic.Int32
	build := func(string) Job[string] {
		return func(ctx context.Context) (string, error) {
			calls.Add(1)
			return "", errors.New("boom")
		}
	}
	var failures int
	stream := NewStream("test", loop, 10*time.Millisecond, build, func(_ string, _ string, err error) {
		if err != nil {
			failures++
		}
	})

	loop.Call(func() { stream.Start("A") })
	eventually(t, loop, "repeated failures", func() bool { return failures >= 3 })

	loop.Call(func() {
		if !stream.Active() {
			t.Errorf("Expected stream to stay active after failures")
		}
		stream.Stop()
	})
	time.Sleep(30 * time.Millisecond)
	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Errorf("Expected no fetches after Stop, got %d more", after-before)
	}
}

func TestStream_NilJobStaysIdle(t *testing.T) {
	loop := startLoop(t)
	stream := NewStream("test", loop, 0, func(string) Job[string] { return nil }, func(string, string, error) {
		t.Error("apply must not run without a job")
	})

	loop.Call(func() {
		stream.Start("A")
		if stream.State() != Idle {
			t.Errorf("Expected Idle without a job")
		}
		if fetches, _, _ := stream.Stats(); fetches != 0 {
			t.Errorf("Expected no fetches, got %d", fetches)
		}
	})
}

func TestLoop_PostAfterStop(t *testing.T) {
	loop := NewLoop(1)
	loop.Stop()
	if loop.Post(func() {}) {
		t.Error("Expected Post to fail on a stopped loop")
	}
	if loop.Call(func() {}) {
		t.Error("Expected Call to fail on a stopped loop")
	}
}

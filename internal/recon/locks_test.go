package recon

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestLockMutualExclusion(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()

	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Lock(ctx, "EthereumEvent")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			if n := atomic.AddInt32(&inside, 1); n != 1 {
				t.Errorf("%d goroutines inside the lock", n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
}

func TestLockReleaseIsIdempotent(t *testing.T) {
	m := NewLockManager(nil)
	ctx := context.Background()

	release, err := m.Lock(ctx, "ObyteTx")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	release()
	release() // second call must not unlock somebody else's acquisition

	release2, err := m.Lock(ctx, "ObyteTx")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	defer release2()

	if _, ok := m.TryLockTimeout("ObyteTx", 10*time.Millisecond); ok {
		t.Error("lock acquired twice")
	}
}

func TestLockAbortsOnContextCancel(t *testing.T) {
	m := NewLockManager(nil)

	release, err := m.Lock(context.Background(), "BSCEvent")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "BSCEvent"); err == nil {
		t.Fatal("acquired a held lock")
	}
}

func TestDeadlockDetectorReportsStuckLock(t *testing.T) {
	m := NewLockManager(nil)

	release, err := m.Lock(context.Background(), "EthereumTx")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()
	// Touch a second lock so the detector probes more than one key.
	r2, err := m.Lock(context.Background(), "ObyteEvent")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	r2()

	stuck := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.RunDeadlockDetector(ctx, 10*time.Millisecond, 30*time.Millisecond, discardLogger(), func(lock string) {
			select {
			case stuck <- lock:
			default:
			}
		})
	}()

	select {
	case lock := <-stuck:
		if lock != "EthereumTx" {
			t.Errorf("stuck lock = %q, want EthereumTx", lock)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detector never fired")
	}
	cancel()
	<-done
}

func TestRecheckQueueDeduplicates(t *testing.T) {
	q := newRecheckQueue()
	defer q.Close()

	var fired int32
	for i := 0; i < 5; i++ {
		q.Schedule("claim 1/expatriation/7", reasonCatchingUp, 20*time.Millisecond, func() {
			atomic.AddInt32(&fired, 1)
		})
	}
	if n := q.Pending(); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&fired) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Errorf("fired %d times, want 1", n)
	}
}

func TestRecheckQueueSeparateReasons(t *testing.T) {
	q := newRecheckQueue()
	defer q.Close()

	q.Schedule("claim 1/expatriation/7", reasonCatchingUp, time.Hour, func() {})
	q.Schedule("claim 1/expatriation/7", reasonYoungTransfer, time.Hour, func() {})
	if n := q.Pending(); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
}

func TestRecheckQueueFire(t *testing.T) {
	q := newRecheckQueue()
	defer q.Close()

	fired := make(chan struct{})
	q.Schedule("transfer 9", reasonYoungTransfer, time.Hour, func() {
		close(fired)
	})
	q.Fire("transfer 9", reasonYoungTransfer)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Fire did not run the callback")
	}
}

func TestRecheckQueueCloseDropsTimers(t *testing.T) {
	q := newRecheckQueue()

	var fired int32
	q.Schedule("transfer 9", reasonYoungTransfer, 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	q.Close()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("callback ran after Close")
	}
	// Scheduling on a closed queue is a no-op.
	q.Schedule("transfer 10", reasonYoungTransfer, time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("callback scheduled after Close ran")
	}
}

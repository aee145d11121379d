package gpio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchCallsHandlerPerEdge(t *testing.T) {
	pin := NewSimPin()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, pin, 5*time.Millisecond, func() error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()
	for i := 0; i < 3; i++ {
		pin.Trigger()
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("handler calls = %d, want 3", got)
	}
}

func TestWatchReturnsHandlerError(t *testing.T) {
	pin := NewSimPin()
	boom := errors.New("i2c read failed")
	pin.Trigger()
	err := Watch(context.Background(), pin, 5*time.Millisecond, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestWatchNeverReentersHandler(t *testing.T) {
	pin := NewSimPin()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var inside, overlap atomic.Int32
	go func() {
		for i := 0; i < 20; i++ {
			pin.Trigger()
			time.Sleep(time.Millisecond)
		}
	}()
	Watch(ctx, pin, 5*time.Millisecond, func() error {
		if inside.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(2 * time.Millisecond)
		inside.Add(-1)
		return nil
	})
	if overlap.Load() != 0 {
		t.Fatalf("handler re-entered %d times", overlap.Load())
	}
}

func TestWaitLow(t *testing.T) {
	pin := NewSimPin()
	go func() {
		time.Sleep(10 * time.Millisecond)
		pin.Trigger()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := WaitLow(ctx, pin, time.Millisecond); err != nil {
		t.Fatalf("wait low: %v", err)
	}
	pin.Release()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if err := WaitLow(ctx2, pin, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

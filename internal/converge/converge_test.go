package converge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWhenImmediate(t *testing.T) {
	if err := When(context.Background(), time.Millisecond, func() bool { return true }); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWhenEventually(t *testing.T) {
	var n atomic.Int32
	err := When(context.Background(), time.Second, func() bool { return n.Add(1) >= 3 })
	if err != nil {
		t.Fatalf("expected convergence, got %v", err)
	}
}

func TestWhenTimeout(t *testing.T) {
	start := time.Now()
	err := When(context.Background(), 50*time.Millisecond, func() bool { return false })
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("returned before the bound")
	}
}

func TestWhenContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := When(ctx, 0, func() bool { return false })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

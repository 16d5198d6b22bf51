package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestFor(t *testing.T) {
	cfg := WithWorkers(4)

	var counter int64
	n := 1000

	err := For(context.Background(), n, cfg, func(_ context.Context, _ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("For returned %v", err)
	}
	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var order []int
	err := For(context.Background(), 5, cfg, func(_ context.Context, i int) error {
		order = append(order, i)
		return nil
	})
	if err != nil {
		t.Fatalf("For returned %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Errorf("sequential order broken at %d: got %d", i, v)
		}
	}
}

func TestFor_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := For(context.Background(), 100, WithWorkers(8), func(_ context.Context, i int) error {
		if i == 37 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestFor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := For(ctx, 10, Config{Enabled: false}, func(_ context.Context, _ int) error {
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

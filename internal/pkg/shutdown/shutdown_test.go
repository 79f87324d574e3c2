package shutdown

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"relecloud/internal/pkg/logger"
)

func TestRegister(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	mgr.Register("test", func(ctx context.Context) error {
		return nil
	})

	if len(mgr.handlers) != 1 {
		t.Errorf("expected 1 handler, got %d", len(mgr.handlers))
	}
	if mgr.handlers[0].Name != "test" {
		t.Errorf("expected handler name 'test', got %s", mgr.handlers[0].Name)
	}
}

func TestRegisterSimple(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var called bool
	mgr.RegisterSimple("simple", func() {
		called = true
	})

	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected simple handler to be called")
	}
}

func TestShutdown(t *testing.T) {
	t.Run("runs handlers in LIFO order", func(t *testing.T) {
		mgr := NewManager(logger.Discard(), 5*time.Second)

		var order []string
		for _, name := range []string{"postgres", "redis", "http"} {
			mgr.RegisterSimple(name, func() { order = append(order, name) })
		}

		if err := mgr.Shutdown(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"http", "redis", "postgres"}; !slices.Equal(order, want) {
			t.Errorf("expected %v, got %v", want, order)
		}
	})

	t.Run("joins handler errors and keeps going", func(t *testing.T) {
		mgr := NewManager(logger.Discard(), 5*time.Second)

		boom := errors.New("boom")
		var ranFirst bool
		mgr.RegisterSimple("first", func() { ranFirst = true })
		mgr.Register("failing", func(ctx context.Context) error { return boom })

		err := mgr.Shutdown()
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if !ranFirst {
			t.Error("expected remaining handlers to run after a failure")
		}
	})

	t.Run("runs once", func(t *testing.T) {
		mgr := NewManager(logger.Discard(), 5*time.Second)

		calls := 0
		mgr.RegisterSimple("count", func() { calls++ })
		_ = mgr.Shutdown()
		_ = mgr.Shutdown()

		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

func TestContext(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)
	ctx := mgr.Context()

	select {
	case <-ctx.Done():
		t.Fatal("expected context to be live initially")
	default:
	}

	_ = mgr.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("expected context to be canceled after shutdown")
	}
}

func TestWaitReturnsAfterDirectShutdown(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)
	mgr.Register("failing", func(context.Context) error { return errors.New("boom") })

	result := make(chan error, 1)
	go func() { result <- mgr.Wait() }()

	first := mgr.Shutdown()
	select {
	case err := <-result:
		if err == nil || err.Error() != first.Error() {
			t.Errorf("expected Wait to return the shutdown error %v, got %v", first, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Shutdown")
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr := NewManager(logger.Discard(), 100*time.Millisecond)

	mgr.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	start := time.Now()
	err := mgr.Shutdown()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took too long: %v", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitWithContext(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var called bool
	mgr.RegisterSimple("x", func() { called = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mgr.WaitWithContext(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handlers to run when the context ends")
	}
}

package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeChecker struct {
	name    string
	healthy atomic.Int32
}

func (f *fakeChecker) Name() string                               { return f.name }
func (f *fakeChecker) IsHealthy() bool                            { return f.healthy.Load() == 1 }
func (f *fakeChecker) Start(ctx context.Context, _ time.Duration) { /* no-op */ }

func TestServiceHealthChecker_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := zerolog.Nop()

	a := &fakeChecker{name: "a"}
	b := &fakeChecker{name: "b"}
	a.healthy.Store(1)
	b.healthy.Store(1)

	svc := NewServiceHealthChecker(logger, a, b)
	go svc.Start(ctx, 10*time.Millisecond)

	// Initially healthy
	waitTrue(t, func() bool { return svc.IsHealthy() })

	// Flip one to unhealthy
	b.healthy.Store(0)
	waitTrue(t, func() bool { return !svc.IsHealthy() })

	// Recover
	b.healthy.Store(1)
	waitTrue(t, func() bool { return svc.IsHealthy() })
}

func TestComponentChecker_ProbeFlipsFlag(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fail atomic.Bool
	c := NewComponentChecker("probe", zerolog.Nop(), time.Second, func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})

	// Unhealthy until the first probe runs.
	if c.IsHealthy() {
		t.Fatalf("checker should start unhealthy")
	}
	go c.Start(ctx, 10*time.Millisecond)
	waitTrue(t, func() bool { return c.IsHealthy() })

	fail.Store(true)
	waitTrue(t, func() bool { return !c.IsHealthy() })

	fail.Store(false)
	waitTrue(t, func() bool { return c.IsHealthy() })
}

type fakePinger struct {
	fail atomic.Bool
}

func (p *fakePinger) HealthPing(ctx context.Context) error {
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestNewPingCheckerProbesComponent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakePinger{}
	c := NewPingChecker("dep", p, zerolog.Nop(), time.Second)
	go c.Start(ctx, 10*time.Millisecond)
	waitTrue(t, func() bool { return c.IsHealthy() })

	p.fail.Store(true)
	waitTrue(t, func() bool { return !c.IsHealthy() })
}

func waitTrue(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

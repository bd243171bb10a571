package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type panelData struct {
	Zones map[string]string
}

func TestCoordinatorRefreshFansOut(t *testing.T) {
	fetches := 0
	c := New("test", time.Minute, func(context.Context) (panelData, error) {
		fetches++
		return panelData{Zones: map[string]string{"1": "armed"}}, nil
	}, nil)
	defer c.Stop()

	var mu sync.Mutex
	var results []panelData
	c.AddListener(func(data panelData, available bool) {
		mu.Lock()
		defer mu.Unlock()
		if available {
			results = append(results, data)
		}
	})
	c.AddListener(func(data panelData, available bool) {
		mu.Lock()
		defer mu.Unlock()
		if available {
			results = append(results, data)
		}
	})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1 (shared across listeners)", fetches)
	}
	if len(results) != 2 {
		t.Fatalf("listener notifications = %d, want 2", len(results))
	}
	if results[0].Zones["1"] != "armed" {
		t.Errorf("listener data = %+v", results[0])
	}
}

func TestCoordinatorLateListenerGetsSnapshot(t *testing.T) {
	c := New("test", time.Minute, func(context.Context) (panelData, error) {
		return panelData{Zones: map[string]string{"1": "disarmed"}}, nil
	}, nil)
	defer c.Stop()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	var got *panelData
	c.AddListener(func(data panelData, available bool) {
		got = &data
	})
	if got == nil {
		t.Fatal("late listener not primed with current snapshot")
	}
	if got.Zones["1"] != "disarmed" {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestCoordinatorFailureMarksUnavailable(t *testing.T) {
	boom := errors.New("cloud down")
	c := New("test", time.Minute, func(context.Context) (panelData, error) {
		return panelData{}, boom
	}, nil)
	defer c.Stop()

	// Cancelled context makes retries fatal, skipping the backoff waits.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Refresh(ctx); err == nil {
		t.Fatal("Refresh() error = nil, want failure")
	}
	if _, available := c.Data(); available {
		t.Error("Data() available = true after failed refresh")
	}
}

func TestCoordinatorUnsubscribe(t *testing.T) {
	c := New("test", time.Minute, func(context.Context) (panelData, error) {
		return panelData{}, nil
	}, nil)
	defer c.Stop()

	calls := 0
	unsub := c.AddListener(func(panelData, bool) { calls++ })

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	unsub()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("listener calls = %d, want 1 after unsubscribe", calls)
	}
}

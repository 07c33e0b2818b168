package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type staticDepths struct {
	depths map[string]int64
	err    error
}

func (s staticDepths) Depths(context.Context, []string) (map[string]int64, error) {
	return s.depths, s.err
}

func component(name string, status Status) Checker {
	return NewComponentChecker(name, func(context.Context) (Status, string, error) {
		return status, string(status), nil
	})
}

func TestManager_OverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
		ready    bool
	}{
		{"no checks", nil, StatusHealthy, true},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy, true},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded, true},
		{"unknown beats degraded", []Status{StatusDegraded, StatusUnknown}, StatusUnknown, false},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultManagerConfig(), nil)
			for i, s := range tt.statuses {
				m.Register(component(string(rune('a'+i)), s))
			}

			got := m.GetOverallStatus(context.Background())
			if got.Status != tt.want {
				t.Errorf("Status = %s, want %s", got.Status, tt.want)
			}
			if len(got.Components) != len(tt.statuses) {
				t.Errorf("Components = %d, want %d", len(got.Components), len(tt.statuses))
			}
			if m.IsReady(context.Background()) != tt.ready {
				t.Errorf("IsReady() = %v, want %v", !tt.ready, tt.ready)
			}
		})
	}
}

func TestManager_CheckTimeout(t *testing.T) {
	m := NewManager(ManagerConfig{Timeout: 10 * time.Millisecond}, nil)
	m.Register(NewDatabaseChecker("db", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	results := m.CheckAll(context.Background())
	if results["db"].Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy after timeout, got %s", results["db"].Status)
	}

	r, ok := m.GetResult("db")
	if !ok || r.Error == "" {
		t.Errorf("Expected recorded result with error, got %+v", r)
	}
}

func TestDatabaseChecker(t *testing.T) {
	ok := NewDatabaseChecker("db", func(context.Context) error { return nil })
	if r := ok.Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", r.Status)
	}

	bad := NewDatabaseChecker("db", func(context.Context) error { return errors.New("refused") })
	r := bad.Check(context.Background())
	if r.Status != StatusUnhealthy || r.Error != "refused" {
		t.Errorf("Unexpected result: %+v", r)
	}
}

func TestComponentChecker_ErrorWithoutStatus(t *testing.T) {
	c := NewComponentChecker("x", func(context.Context) (Status, string, error) {
		return "", "", errors.New("boom")
	})
	if r := c.Check(context.Background()); r.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", r.Status)
	}
}

func TestQueueDepthChecker(t *testing.T) {
	tests := []struct {
		name       string
		depths     staticDepths
		threshold  int64
		want       Status
		wantInText string
	}{
		{"within threshold", staticDepths{depths: map[string]int64{"sync": 10}}, 100, StatusHealthy, "within"},
		{"over threshold", staticDepths{depths: map[string]int64{"sync": 150, "backfill": 120}}, 100, StatusDegraded, "backfill=120, sync=150"},
		{"threshold disabled", staticDepths{depths: map[string]int64{"sync": 1 << 30}}, 0, StatusHealthy, ""},
		{"read error", staticDepths{err: errors.New("db down")}, 100, StatusUnhealthy, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewQueueDepthChecker(tt.depths, []string{"sync", "backfill"}, tt.threshold)
			r := c.Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("Status = %s, want %s", r.Status, tt.want)
			}
			if !strings.Contains(r.Message, tt.wantInText) {
				t.Errorf("Message = %q, want it to contain %q", r.Message, tt.wantInText)
			}
		})
	}
}

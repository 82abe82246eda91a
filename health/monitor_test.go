package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateHealthy("listener", "accepting connections")

	status, exists := monitor.Get("listener")
	if !exists {
		t.Fatal("component should exist after update")
	}
	if !status.IsHealthy() {
		t.Errorf("expected healthy status, got %s", status.Status)
	}
	if status.Timestamp.IsZero() {
		t.Error("Update should set timestamp if not provided")
	}
}

func TestMonitorCorrectsComponentName(t *testing.T) {
	monitor := NewMonitor()

	monitor.Update("sweep", Status{Component: "wrong-name", Status: "healthy"})

	status, exists := monitor.Get("sweep")
	if !exists {
		t.Fatal("component should exist under the updated name")
	}
	if status.Component != "sweep" {
		t.Errorf("expected component name 'sweep', got %s", status.Component)
	}
}

func TestAggregateHealth(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateHealthy("listener", "ok")
	monitor.UpdateHealthy("sweep", "ok")

	agg := monitor.AggregateHealth("arbiter")
	if !agg.IsHealthy() {
		t.Errorf("all healthy should aggregate healthy, got %s", agg.Status)
	}
	if len(agg.SubStatuses) != 2 {
		t.Errorf("expected 2 sub-statuses, got %d", len(agg.SubStatuses))
	}

	monitor.UpdateDegraded("producer", "no active instance, buffering")
	agg = monitor.AggregateHealth("arbiter")
	if !agg.IsDegraded() {
		t.Errorf("degraded sub-component should aggregate degraded, got %s", agg.Status)
	}

	monitor.UpdateUnhealthy("listener", "bind lost")
	agg = monitor.AggregateHealth("arbiter")
	if !agg.IsUnhealthy() {
		t.Errorf("unhealthy sub-component should aggregate unhealthy, got %s", agg.Status)
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate("arbiter", nil)
	if !agg.IsHealthy() {
		t.Errorf("empty aggregate should be healthy, got %s", agg.Status)
	}
}

func TestHandler(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("listener", "ok")

	rec := httptest.NewRecorder()
	monitor.Handler("arbiter").ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("healthy system should answer 200, got %d", rec.Code)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("handler should write JSON: %v", err)
	}
	if status.Component != "arbiter" {
		t.Errorf("expected aggregate component 'arbiter', got %s", status.Component)
	}

	monitor.UpdateUnhealthy("listener", "bind lost")
	rec = httptest.NewRecorder()
	monitor.Handler("arbiter").ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 503 {
		t.Fatalf("unhealthy system should answer 503, got %d", rec.Code)
	}
}

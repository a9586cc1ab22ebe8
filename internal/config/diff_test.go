package config

import (
	"testing"
	"time"
)

func fleet(ws ...WorkerEndpoint) CoordinatorConfig {
	return CoordinatorConfig{Workers: ws, RetryBackoff: time.Second}
}

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		Coordinator: fleet(WorkerEndpoint{Role: "buyer", URL: "http://b/run", Timeout: time.Second, MaxRetries: 3}),
		Web:         WebConfig{Port: 8080},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no non-reloadable changes, got %v", d.NonReloadable)
	}
}

func TestDiff_WorkerAdded(t *testing.T) {
	old := &Config{Coordinator: fleet(WorkerEndpoint{Role: "buyer", URL: "http://b/run"})}
	new := &Config{Coordinator: fleet(
		WorkerEndpoint{Role: "buyer", URL: "http://b/run"},
		WorkerEndpoint{Role: "seller", URL: "http://s/run"},
	)}
	d := Diff(old, new)
	if len(d.WorkersAdded) != 1 || d.WorkersAdded[0] != "seller" {
		t.Errorf("expected seller added, got %v", d.WorkersAdded)
	}
	if len(d.WorkersRemoved) != 0 {
		t.Errorf("expected no removals, got %v", d.WorkersRemoved)
	}
	if len(d.WorkersChanged) != 0 {
		t.Errorf("expected no changes, got %v", d.WorkersChanged)
	}
	if !d.WorkersChangedAny() {
		t.Error("expected fleet swap")
	}
}

func TestDiff_WorkerRemoved(t *testing.T) {
	old := &Config{Coordinator: fleet(
		WorkerEndpoint{Role: "buyer", URL: "http://b/run"},
		WorkerEndpoint{Role: "seller", URL: "http://s/run"},
	)}
	new := &Config{Coordinator: fleet(WorkerEndpoint{Role: "buyer", URL: "http://b/run"})}
	d := Diff(old, new)
	if len(d.WorkersRemoved) != 1 || d.WorkersRemoved[0] != "seller" {
		t.Errorf("expected seller removed, got %v", d.WorkersRemoved)
	}
}

func TestDiff_WorkerURLChanged(t *testing.T) {
	old := &Config{Coordinator: fleet(WorkerEndpoint{Role: "price", URL: "http://localhost:8003/run"})}
	new := &Config{Coordinator: fleet(WorkerEndpoint{Role: "price", URL: "http://price:8003/run"})}
	d := Diff(old, new)
	if len(d.WorkersChanged) != 1 || d.WorkersChanged[0] != "price" {
		t.Errorf("expected price changed, got %v", d.WorkersChanged)
	}
}

func TestDiff_WorkerOrderChanged(t *testing.T) {
	a := WorkerEndpoint{Role: "buyer", URL: "http://b/run"}
	b := WorkerEndpoint{Role: "seller", URL: "http://s/run"}
	d := Diff(&Config{Coordinator: fleet(a, b)}, &Config{Coordinator: fleet(b, a)})
	if !d.OrderChanged {
		t.Error("expected order changed")
	}
	if !d.HasChanges() {
		t.Error("expected reorder to count as a change")
	}
}

func TestDiff_BackoffChanged(t *testing.T) {
	old := &Config{Coordinator: CoordinatorConfig{RetryBackoff: time.Second}}
	new := &Config{Coordinator: CoordinatorConfig{RetryBackoff: 2 * time.Second}}
	d := Diff(old, new)
	if !d.BackoffChanged {
		t.Error("expected backoff changed")
	}
	if d.WorkersChangedAny() {
		t.Error("backoff change should not swap the fleet")
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{
		Telegram: TelegramConfig{Token: "old-token"},
		Web:      WebConfig{Port: 8080},
	}
	new := &Config{
		Telegram: TelegramConfig{Token: "new-token"},
		Web:      WebConfig{Port: 9090},
	}
	d := Diff(old, new)
	if len(d.NonReloadable) != 2 {
		t.Errorf("expected 2 non-reloadable warnings, got %v", d.NonReloadable)
	}
}

func TestDiff_AllowFromChanged(t *testing.T) {
	old := &Config{Telegram: TelegramConfig{AllowFrom: []int64{123}}}
	new := &Config{Telegram: TelegramConfig{AllowFrom: []int64{123, 456}}}
	d := Diff(old, new)
	if !d.AllowFromChanged {
		t.Error("expected allow_from changed")
	}
}

package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	WorkersAdded   []string
	WorkersRemoved []string
	WorkersChanged []string
	// OrderChanged is set when the same roles appear in a different order.
	OrderChanged bool

	BackoffChanged bool

	AllowFromChanged bool

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.WorkersAdded) > 0 ||
		len(d.WorkersRemoved) > 0 ||
		len(d.WorkersChanged) > 0 ||
		d.OrderChanged ||
		d.BackoffChanged ||
		d.AllowFromChanged
}

// WorkersChangedAny reports whether the worker fleet needs to be swapped.
func (d *ConfigDiff) WorkersChangedAny() bool {
	return len(d.WorkersAdded) > 0 || len(d.WorkersRemoved) > 0 || len(d.WorkersChanged) > 0 || d.OrderChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	oldWorkers := indexWorkers(old.Coordinator.Workers)
	newWorkers := indexWorkers(new.Coordinator.Workers)

	for _, w := range new.Coordinator.Workers {
		prev, ok := oldWorkers[w.Role]
		if !ok {
			d.WorkersAdded = append(d.WorkersAdded, w.Role)
			continue
		}
		if prev != w {
			d.WorkersChanged = append(d.WorkersChanged, w.Role)
		}
	}
	for _, w := range old.Coordinator.Workers {
		if _, ok := newWorkers[w.Role]; !ok {
			d.WorkersRemoved = append(d.WorkersRemoved, w.Role)
		}
	}
	if len(d.WorkersAdded) == 0 && len(d.WorkersRemoved) == 0 {
		d.OrderChanged = !slices.Equal(roles(old.Coordinator.Workers), roles(new.Coordinator.Workers))
	}

	if old.Coordinator.RetryBackoff != new.Coordinator.RetryBackoff {
		d.BackoffChanged = true
	}
	if !slices.Equal(old.Telegram.AllowFrom, new.Telegram.AllowFrom) {
		d.AllowFromChanged = true
	}

	// Non-reloadable warnings
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS != new.NATS {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Store.Retention != new.Store.Retention || old.Store.PruneSchedule != new.Store.PruneSchedule {
		d.NonReloadable = append(d.NonReloadable, "store.retention")
	}

	return d
}

func indexWorkers(ws []WorkerEndpoint) map[string]WorkerEndpoint {
	m := make(map[string]WorkerEndpoint, len(ws))
	for _, w := range ws {
		m[w.Role] = w
	}
	return m
}

func roles(ws []WorkerEndpoint) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Role
	}
	return out
}

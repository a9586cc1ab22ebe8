package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/realtymesh/internal/format"
	"github.com/mtzanidakis/realtymesh/internal/metrics"
	"github.com/mtzanidakis/realtymesh/internal/natsbus"
	"github.com/mtzanidakis/realtymesh/internal/registry"
	"github.com/mtzanidakis/realtymesh/internal/store"
	"github.com/mtzanidakis/realtymesh/internal/transport"
)

// CorrelationHeader carries the run id to workers, which use it as the
// session id for the request.
const CorrelationHeader = "X-Correlation-ID"

type Coordinator struct {
	registry  *registry.Registry
	transport *transport.Client
	events    *natsbus.Client
	store     *store.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	formatter func(role string) format.Formatter
}

type Option func(*Coordinator)

// WithEvents publishes run events on the bus.
func WithEvents(c *natsbus.Client) Option {
	return func(co *Coordinator) { co.events = c }
}

// WithStore records every run.
func WithStore(s *store.Store) Option {
	return func(co *Coordinator) { co.store = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithFormatter replaces format.For as the per-role formatter lookup.
func WithFormatter(f func(role string) format.Formatter) Option {
	return func(co *Coordinator) { co.formatter = f }
}

func NewCoordinator(reg *registry.Registry, tc *transport.Client, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:  reg,
		transport: tc,
		logger:    slog.Default(),
		formatter: format.For,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type runOptions struct {
	id     string
	source string
}

type RunOption func(*runOptions)

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.id = id }
}

// WithSource labels where the request came from (api, telegram, cli).
func WithSource(source string) RunOption {
	return func(o *runOptions) { o.source = source }
}

// roleReply is one worker's reply after normalization.
type roleReply struct {
	role    string
	items   []map[string]any
	outcome Outcome
}

// Aggregate fans req out to every configured worker, waits for all of them
// and formats the replies. It always returns one entry per configured role.
func (c *Coordinator) Aggregate(ctx context.Context, req Request, opts ...RunOption) (resp Response) {
	ro := runOptions{source: "api"}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.id == "" {
		ro.id = uuid.NewString()
	}

	workers := c.registry.Snapshot()
	roles := make([]string, len(workers))
	for i, w := range workers {
		roles[i] = w.Role
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("aggregate panicked", "run", ro.id, "panic", r)
			resp = failedResponse(ro.id, roles, fmt.Errorf("panic: %v", r))
		}
		c.metrics.ObserveAggregate(time.Since(start), resp.Failed)
	}()

	c.logger.Info("aggregate started", "run", ro.id, "source", ro.source, "workers", len(workers))
	c.publish(natsbus.TopicEventsRun(ro.id), "aggregate_started", ro.id, map[string]any{
		"roles":  roles,
		"source": ro.source,
	})
	c.saveRun(&store.Run{
		ID:      ro.id,
		Source:  ro.source,
		Request: mustJSON(req),
		Roles:   roles,
		Status:  store.RunRunning,
	})

	replies, err := c.dispatch(ctx, ro.id, req, workers)
	if err == nil {
		resp, err = c.compose(ro.id, roles, replies)
	}
	if err != nil {
		c.logger.Error("aggregate failed", "run", ro.id, "error", err)
		resp = failedResponse(ro.id, roles, err)
	}

	elapsed := time.Since(start)
	status := store.RunCompleted
	if resp.Failed {
		status = store.RunFailed
	}
	c.saveRun(&store.Run{
		ID:         ro.id,
		Source:     ro.source,
		Request:    mustJSON(req),
		Roles:      roles,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
		Results:    roleResults(resp),
	})
	c.publish(natsbus.TopicEventsRun(ro.id), "aggregate_completed", ro.id, map[string]any{
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
	})
	c.logger.Info("aggregate finished", "run", ro.id, "status", status, "duration", elapsed)
	return resp
}

// dispatch calls every worker concurrently and waits for all of them. A slow
// worker is never cancelled because another one finished; only its own
// timeout and retry budget bound it.
func (c *Coordinator) dispatch(ctx context.Context, runID string, req Request, workers []registry.Worker) ([]roleReply, error) {
	replies := make([]roleReply, len(workers))

	var g errgroup.Group
	for i, w := range workers {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker %s: panic: %v", w.Role, r)
				}
			}()

			reply := c.transport.Call(ctx, w.URL, req, transport.CallOptions{
				Timeout:    w.Timeout,
				MaxRetries: w.MaxRetries,
				Headers:    map[string]string{CorrelationHeader: runID},
			})
			c.logger.Debug("worker reply", "run", runID, "role", w.Role, "attempts", reply.Attempts, "body", reply.Body)

			replies[i] = normalizeReply(w.Role, reply)
			o := replies[i].outcome
			c.publish(natsbus.TopicEventsWorker(w.Role), "worker_completed", runID, map[string]any{
				"role":      w.Role,
				"status":    o.Status,
				"items":     o.Items,
				"attempts":  o.Attempts,
				"degraded":  o.Degraded,
				"exhausted": o.Exhausted,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

// compose formats every reply. A panicking formatter fails the whole run.
func (c *Coordinator) compose(runID string, roles []string, replies []roleReply) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("format: panic: %v", r)
		}
	}()

	resp = Response{
		ID:       runID,
		Roles:    roles,
		Results:  make(map[string]string, len(replies)),
		Outcomes: make(map[string]Outcome, len(replies)),
	}
	for _, r := range replies {
		resp.Results[r.role] = c.formatter(r.role)(r.items)
		resp.Outcomes[r.role] = r.outcome
		c.metrics.WorkerResult(r.role, string(r.outcome.Status))
	}
	return resp, nil
}

// normalizeReply turns a raw transport reply into items and an outcome. An
// object is used as is, a string is parsed as JSON, anything else (or an
// exhausted call) is an empty result.
func normalizeReply(role string, reply transport.Reply) roleReply {
	out := roleReply{
		role:    role,
		items:   []map[string]any{},
		outcome: Outcome{Status: StatusSuccess, Attempts: reply.Attempts},
	}

	if reply.Exhausted() {
		out.outcome.Status = StatusError
		out.outcome.Exhausted = true
		out.outcome.Message = fmt.Sprintf("unreachable after %d attempts: %v", reply.Attempts, reply.Err)
		return out
	}

	body := reply.Body
	if s, ok := body.(string); ok {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			out.outcome.Status = StatusError
			out.outcome.Message = "reply is not valid JSON"
			return out
		}
		body = v
	}

	obj, ok := body.(map[string]any)
	if !ok {
		out.outcome.Status = StatusError
		out.outcome.Message = fmt.Sprintf("unexpected reply type %T", body)
		return out
	}

	switch v := obj[role].(type) {
	case []any:
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				out.items = append(out.items, m)
			}
		}
	case map[string]any:
		out.items = append(out.items, v)
	}
	out.outcome.Items = len(out.items)

	if s, _ := obj["status"].(string); s == string(StatusError) {
		out.outcome.Status = StatusError
	}
	if m, ok := obj["message"].(string); ok {
		out.outcome.Message = m
	}
	if d, ok := obj["degraded"].(bool); ok {
		out.outcome.Degraded = d
	}
	return out
}

// failedResponse is the answer when aggregation itself broke: every
// configured role gets the same error line.
func failedResponse(runID string, roles []string, err error) Response {
	resp := Response{
		ID:       runID,
		Roles:    roles,
		Results:  make(map[string]string, len(roles)),
		Outcomes: make(map[string]Outcome, len(roles)),
		Failed:   true,
	}
	for _, role := range roles {
		resp.Results[role] = fmt.Sprintf("Error fetching %s data.", role)
		resp.Outcomes[role] = Outcome{Status: StatusError, Message: err.Error()}
	}
	return resp
}

func roleResults(resp Response) []store.RoleResult {
	out := make([]store.RoleResult, 0, len(resp.Roles))
	for _, role := range resp.Roles {
		o := resp.Outcomes[role]
		out = append(out, store.RoleResult{
			Role:      role,
			Status:    string(o.Status),
			Message:   o.Message,
			Items:     o.Items,
			Attempts:  o.Attempts,
			Degraded:  o.Degraded,
			Exhausted: o.Exhausted,
			Text:      resp.Results[role],
		})
	}
	return out
}

func (c *Coordinator) saveRun(run *store.Run) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveRun(run); err != nil {
		c.logger.Warn("save run failed", "run", run.ID, "error", err)
	}
}

func (c *Coordinator) publish(topic, eventType, runID string, data map[string]any) {
	if c.events == nil {
		return
	}
	if err := c.events.PublishEvent(topic, natsbus.NewEvent(eventType, runID, data)); err != nil {
		c.logger.Warn("publish event failed", "type", eventType, "run", runID, "error", err)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

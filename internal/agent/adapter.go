// Package agent implements the worker side: one Adapter per role turns a
// request into a prompt, asks the generation capability, and parses the
// reply into role items. Execute never fails; every problem ends up in the
// result's status and message.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/realtymesh/internal/llm"
	"github.com/mtzanidakis/realtymesh/internal/metrics"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
)

const noFinalResponse = "No final response from agent"

type Adapter struct {
	role     Role
	gen      llm.Generator
	sessions *SessionService
	metrics  *metrics.Metrics
	logger   *slog.Logger
	user     string
}

type Option func(*Adapter)

func WithSessions(s *SessionService) Option {
	return func(a *Adapter) { a.sessions = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

func NewAdapter(role Role, gen llm.Generator, opts ...Option) *Adapter {
	a := &Adapter{
		role:     role,
		gen:      gen,
		sessions: NewSessionService(),
		logger:   slog.Default(),
		user:     "user_" + role.Name,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("role", role.Name)
	return a
}

func (a *Adapter) Role() Role { return a.role }

func (a *Adapter) Sessions() *SessionService { return a.sessions }

// Execute runs one request. sessionID scopes conversation history; an empty
// id gets a fresh session.
func (a *Adapter) Execute(ctx context.Context, req swarm.Request, sessionID string) (res swarm.WorkerResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("execute panicked", "panic", r)
			res = swarm.WorkerResult{
				Role:    a.role.Name,
				Status:  swarm.StatusError,
				Items:   []swarm.Item{},
				Message: fmt.Sprintf("%s: %v", a.role.FailureMessage, r),
			}
		}
	}()

	a.logger.Debug("incoming request", "fields", req.Len(), "session", sessionID)

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, err := a.sessions.Create(a.role.App(), a.user, sessionID)
	if err != nil {
		a.logger.Warn("session creation failed", "session", sessionID, "error", err)
	}

	prompt := a.role.Prompt(req)
	messages := []llm.Message{{Role: "user", Content: prompt}}
	if sess != nil {
		unlock := sess.Lock()
		defer unlock()
		messages = append(sess.History(), messages...)
	}

	start := time.Now()
	text, err := a.gen.Generate(ctx, llm.Prompt{System: a.role.Instruction, Messages: messages})
	if err != nil {
		if errors.Is(err, llm.ErrNoFinalResponse) {
			a.metrics.Generation(a.role.Name, "no_final")
			a.logger.Error("no final response from agent", "duration", time.Since(start))
			return a.fail(req, noFinalResponse)
		}
		a.metrics.Generation(a.role.Name, "error")
		a.logger.Warn("generation failed", "duration", time.Since(start), "error", err)
		return a.fail(req, fmt.Sprintf("Generation failed: %v", err))
	}
	a.metrics.Generation(a.role.Name, "ok")
	a.logger.Debug("raw model output", "text", text, "duration", time.Since(start))

	if sess != nil {
		sess.Record(prompt, text)
	}

	obj, err := parseObject(CleanResponse(text))
	if err != nil {
		a.logger.Error("JSON parse error", "error", err)
		return a.fail(req, fmt.Sprintf("Failed to parse %s data", a.role.Name))
	}

	raw := itemsFor(obj, a.role.Name)
	if len(raw) == 0 && a.role.Fallback != nil {
		return a.fail(req, fmt.Sprintf("No %s items in model output", a.role.Name))
	}

	items := make([]swarm.Item, len(raw))
	for i, m := range raw {
		items[i] = swarm.Item(m)
	}
	return swarm.WorkerResult{
		Role:   a.role.Name,
		Status: swarm.StatusSuccess,
		Items:  items,
	}
}

// fail builds the result for a failed turn. Roles with a fallback report a
// degraded success carrying the synthetic items; the rest report an error.
func (a *Adapter) fail(req swarm.Request, message string) swarm.WorkerResult {
	if a.role.Fallback == nil {
		return swarm.WorkerResult{
			Role:    a.role.Name,
			Status:  swarm.StatusError,
			Items:   []swarm.Item{},
			Message: message,
		}
	}

	a.logger.Info("using fallback", "reason", message)
	a.metrics.Fallback(a.role.Name)
	return swarm.WorkerResult{
		Role:     a.role.Name,
		Status:   swarm.StatusSuccess,
		Items:    a.role.Fallback(req),
		Message:  "Fallback result: " + message,
		Degraded: true,
	}
}

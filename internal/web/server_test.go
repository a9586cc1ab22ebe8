package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mtzanidakis/realtymesh/internal/agent"
	"github.com/mtzanidakis/realtymesh/internal/config"
	"github.com/mtzanidakis/realtymesh/internal/llm"
	"github.com/mtzanidakis/realtymesh/internal/metrics"
	"github.com/mtzanidakis/realtymesh/internal/natsbus"
	"github.com/mtzanidakis/realtymesh/internal/registry"
	"github.com/mtzanidakis/realtymesh/internal/store"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
	"github.com/mtzanidakis/realtymesh/internal/transport"
)

// startWorker runs a real worker handler for role answering with text.
func startWorker(t *testing.T, role, text string) config.WorkerEndpoint {
	t.Helper()
	r, err := agent.LookupRole(role)
	if err != nil {
		t.Fatal(err)
	}
	gen := llm.Func(func(context.Context, llm.Prompt) (string, error) { return text, nil })
	srv := httptest.NewServer(NewWorkerServer(agent.NewAdapter(r, gen), 0).Handler())
	t.Cleanup(srv.Close)
	return config.WorkerEndpoint{Role: role, URL: srv.URL + "/run", Timeout: time.Second, MaxRetries: 1}
}

type gateway struct {
	srv   *httptest.Server
	store *store.Store
}

func newGateway(t *testing.T, cfg config.WebConfig, endpoints ...config.WorkerEndpoint) *gateway {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := registry.New(endpoints)
	coord := swarm.NewCoordinator(reg, transport.New(transport.WithBackoff(0), transport.WithMetrics(m)),
		swarm.WithStore(st), swarm.WithMetrics(m))

	s := NewServer(coord, reg, cfg, WithStore(st), WithGatherer(promReg), WithVersion("test"))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &gateway{srv: srv, store: st}
}

func (g *gateway) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(g.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAggregateEndpoint(t *testing.T) {
	g := newGateway(t, config.WebConfig{},
		startWorker(t, "buyer", "```json\n{\"buyer\":[{\"title\":\"3BHK Whitefield\",\"price\":\"1.2 Cr\"}]}\n```"),
		startWorker(t, "seller", "not json"),
		startWorker(t, "price", `{"price":[{"property_type":"Apartment","estimated_price":"95L"}]}`),
	)

	resp := g.post(t, "/api/aggregate", `{"location":"Bangalore","budget":12000000,"property_type":"Apartment"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var results map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 roles, got %v", results)
	}
	if !strings.HasPrefix(results["buyer"], "### Buyer Recommendations:") || !strings.Contains(results["buyer"], "3BHK Whitefield") {
		t.Errorf("unexpected buyer block %q", results["buyer"])
	}
	// Unparseable seller output degrades to the local estimate
	if !strings.Contains(results["seller"], "Beautiful Apartment in Bangalore") {
		t.Errorf("expected fallback seller listing, got %q", results["seller"])
	}
	if !strings.Contains(results["price"], "95L") {
		t.Errorf("unexpected price block %q", results["price"])
	}
}

func TestAggregateDetail(t *testing.T) {
	g := newGateway(t, config.WebConfig{}, startWorker(t, "neighborhood", `{"neighborhood":[]}`))

	resp := g.post(t, "/api/aggregate?detail=1", `{"location":"Pune"}`)
	var out swarm.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ID == "" || len(out.Roles) != 1 {
		t.Fatalf("unexpected detail response %+v", out)
	}
	if out.Results["neighborhood"] != "No neighborhood insights available." {
		t.Errorf("unexpected result %q", out.Results["neighborhood"])
	}

	// The run is recorded
	runResp, err := http.Get(g.srv.URL + "/api/runs/" + out.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer runResp.Body.Close()
	var run store.Run
	json.NewDecoder(runResp.Body).Decode(&run)
	if run.Status != store.RunCompleted || len(run.Results) != 1 {
		t.Errorf("unexpected stored run %+v", run)
	}
}

func TestAggregateRejectsNonObject(t *testing.T) {
	g := newGateway(t, config.WebConfig{})
	for _, body := range []string{`[1,2]`, `"x"`, ``} {
		if resp := g.post(t, "/api/aggregate", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestRunsEndpoints(t *testing.T) {
	g := newGateway(t, config.WebConfig{})
	g.store.SaveRun(&store.Run{ID: "r1", Roles: []string{"buyer"}, Status: store.RunCompleted})

	resp, _ := http.Get(g.srv.URL + "/api/runs")
	var runs []store.Run
	json.NewDecoder(resp.Body).Decode(&runs)
	resp.Body.Close()
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	req, _ := http.NewRequest(http.MethodDelete, g.srv.URL+"/api/runs/r1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, _ = http.Get(g.srv.URL + "/api/runs/r1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestWorkersAndStatus(t *testing.T) {
	g := newGateway(t, config.WebConfig{}, config.WorkerEndpoint{Role: "buyer", URL: " http://x/run\n", Timeout: time.Second, MaxRetries: 3})

	resp, _ := http.Get(g.srv.URL + "/api/workers")
	var workers []map[string]any
	json.NewDecoder(resp.Body).Decode(&workers)
	resp.Body.Close()
	if len(workers) != 1 || workers[0]["url"] != "http://x/run" {
		t.Errorf("unexpected workers %v", workers)
	}

	resp, _ = http.Get(g.srv.URL + "/api/status")
	var status map[string]any
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status["status"] != "ok" || status["version"] != "test" || status["nats"] != "disabled" {
		t.Errorf("unexpected status %v", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	g := newGateway(t, config.WebConfig{}, startWorker(t, "buyer", `{"buyer":[]}`))
	g.post(t, "/api/aggregate", `{}`)

	resp, err := http.Get(g.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "realtymesh_coordinator_worker_results_total") {
		t.Error("expected coordinator metrics to be exposed")
	}
}

func TestBasicAuth(t *testing.T) {
	g := newGateway(t, config.WebConfig{Auth: "secret"})

	resp, _ := http.Get(g.srv.URL + "/api/workers")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/api/workers", nil)
	req.SetBasicAuth("admin", "secret")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with basic auth, got %d", resp.StatusCode)
	}

	// Login issues a session cookie
	resp = g.post(t, "/api/login", `{"password":"secret"}`)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	req, _ = http.NewRequest(http.MethodGet, g.srv.URL+"/api/workers", nil)
	req.AddCookie(cookie)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with session cookie, got %d", resp.StatusCode)
	}

	if resp := g.post(t, "/api/login", `{"password":"wrong"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	s := NewServer(nil, registry.New(nil), config.WebConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.hub.Broadcast(natsbus.NewEvent("aggregate_completed", "run-1", map[string]any{"status": "completed"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev natsbus.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "aggregate_completed" || ev.RunID != "run-1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestWebSocketRunFilter(t *testing.T) {
	s := NewServer(nil, registry.New(nil), config.WebConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws?run=run-2", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.hub.Broadcast(natsbus.NewEvent("aggregate_started", "run-1", nil))
	s.hub.Broadcast(natsbus.NewEvent("aggregate_started", "run-2", nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev natsbus.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.RunID != "run-2" {
		t.Errorf("expected only run-2 events, got %+v", ev)
	}
}

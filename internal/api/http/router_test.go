package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/query-service/internal/api/dto"
	"github.com/spec-kit/query-service/internal/api/http/handlers"
	"github.com/spec-kit/query-service/internal/classifier"
	"github.com/spec-kit/query-service/internal/events"
	"github.com/spec-kit/query-service/internal/observability"
	"github.com/spec-kit/query-service/internal/repository"
	"github.com/spec-kit/query-service/internal/service"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type testServer struct {
	app     *fiber.App
	hub     *events.Hub
	metrics *observability.Metrics
}

func newTestServer(t *testing.T, deps map[string]handlers.Pinger) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	hub := events.NewHub(8, logger, metrics)

	svc := service.NewQueryService(service.QueryDependencies{
		QueryRepo:  repository.NewMemoryQueryRepository(),
		Classifier: classifier.NewKeywordClassifier(),
		Publisher:  hub,
		Logger:     logger,
		Metrics:    metrics,
	})

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:  handlers.NewHealthHandler("query-service", "test", deps, metrics),
		Queries: handlers.NewQueriesHandler(svc),
		Stream:  handlers.NewStreamHandler(hub, logger, time.Hour),
	})
	return &testServer{app: app, hub: hub, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func (s *testServer) ingest(t *testing.T, text string) map[string]any {
	t.Helper()
	status, body := s.do(t, fiber.MethodPost, "/api/queries/ingest", map[string]any{
		"sourceChannel": "Manual",
		"sourceId":      "test-" + text,
		"rawText":       text,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("ingest status = %d, body = %v", status, body)
	}
	return body["data"].(map[string]any)
}

func TestIngestEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := srv.do(t, fiber.MethodPost, "/api/queries/ingest", map[string]any{
		"sourceChannel": "Manual",
		"rawText":       "I have an urgent problem",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["msg"] != "Query ingested successfully" {
		t.Errorf("msg = %v", body["msg"])
	}
	data := body["data"].(map[string]any)
	if data["status"] != "New" || data["priority"] != "Urgent" || data["assignedTo"] != "Unassigned" {
		t.Errorf("unexpected query: %v", data)
	}
	history := data["history"].([]any)
	if len(history) != 1 || history[0].(map[string]any)["action"] != "Query Ingested" {
		t.Errorf("history = %v", history)
	}
}

func TestIngestEndpointValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := srv.do(t, fiber.MethodPost, "/api/queries/ingest", map[string]any{"sourceChannel": "Email"})
	if status != fiber.StatusBadRequest || errorCode(body) != "VALIDATION_FAILED" {
		t.Errorf("status = %d, body = %v", status, body)
	}

	req := httptest.NewRequest(fiber.MethodPost, "/api/queries/ingest", strings.NewReader("{not json"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := srv.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("malformed JSON status = %d", resp.StatusCode)
	}
}

func TestIngestEndpointConflict(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := map[string]any{"sourceChannel": "Email", "sourceId": "mail-1", "rawText": "hello"}

	if status, _ := srv.do(t, fiber.MethodPost, "/api/queries/ingest", payload); status != fiber.StatusCreated {
		t.Fatalf("first ingest status = %d", status)
	}
	status, body := srv.do(t, fiber.MethodPost, "/api/queries/ingest", payload)
	if status != fiber.StatusConflict || errorCode(body) != "CONFLICT" {
		t.Errorf("status = %d, body = %v", status, body)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.ingest(t, "where is my order")["id"].(string)

	status, body := srv.do(t, fiber.MethodPost, "/api/queries/"+id+"/update", map[string]any{
		"status":     "In Progress",
		"assignedTo": "Agent X",
	})
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["status"] != "In Progress" || data["assignedTo"] != "Agent X" {
		t.Errorf("unexpected query: %v", data)
	}
	if len(data["history"].([]any)) != 3 {
		t.Errorf("history = %v", data["history"])
	}
	metrics := data["responseMetrics"].(map[string]any)
	if metrics["firstResponseTime"] == nil {
		t.Error("first response time not recorded")
	}

	status, body = srv.do(t, fiber.MethodPost, "/api/queries/"+id+"/update", map[string]any{"assignedTo": ""})
	if status != fiber.StatusOK || body["data"].(map[string]any)["assignedTo"] != "Unassigned" {
		t.Errorf("unassign: status = %d, body = %v", status, body)
	}
}

func TestUpdateEndpointErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.ingest(t, "hello")["id"].(string)

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"invalid id", "/api/queries/not-a-uuid/update", map[string]any{"status": "Resolved"}, fiber.StatusBadRequest, "INVALID_ID"},
		{"missing query", "/api/queries/6f1c9a52-8a43-4a53-9d59-3c7a7a1e0a11/update", map[string]any{"status": "Resolved"}, fiber.StatusNotFound, "NOT_FOUND"},
		{"unknown status", "/api/queries/" + id + "/update", map[string]any{"status": "Closed"}, fiber.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := srv.do(t, fiber.MethodPost, tt.path, tt.body)
			if status != tt.status || errorCode(body) != tt.code {
				t.Errorf("status = %d, body = %v", status, body)
			}
		})
	}
}

func TestGetAndListEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	id := srv.ingest(t, "my invoice is wrong")["id"].(string)
	srv.ingest(t, "how to reset")

	status, body := srv.do(t, fiber.MethodGet, "/api/queries/"+id, nil)
	if status != fiber.StatusOK || body["data"].(map[string]any)["id"] != id {
		t.Fatalf("get: status = %d, body = %v", status, body)
	}

	status, body = srv.do(t, fiber.MethodGet, "/api/queries", nil)
	if status != fiber.StatusOK || len(body["data"].([]any)) != 2 {
		t.Fatalf("list: status = %d, body = %v", status, body)
	}

	srv.do(t, fiber.MethodPost, "/api/queries/"+id+"/update", map[string]any{"status": "Resolved"})
	status, body = srv.do(t, fiber.MethodGet, "/api/queries?status=Resolved", nil)
	if status != fiber.StatusOK || len(body["data"].([]any)) != 1 {
		t.Errorf("filtered list: status = %d, body = %v", status, body)
	}

	status, body = srv.do(t, fiber.MethodGet, "/api/queries?limit=-1", nil)
	if status != fiber.StatusBadRequest || errorCode(body) != "VALIDATION_FAILED" {
		t.Errorf("bad limit: status = %d, body = %v", status, body)
	}

	status, _ = srv.do(t, fiber.MethodGet, "/api/nothing-here", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("unknown route status = %d", status)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, map[string]handlers.Pinger{"postgres": fakePinger{}})
	if status, body := srv.do(t, fiber.MethodGet, "/health/live", nil); status != fiber.StatusOK || body["status"] != "alive" {
		t.Errorf("live: %d %v", status, body)
	}
	if status, body := srv.do(t, fiber.MethodGet, "/health/ready", nil); status != fiber.StatusOK || body["status"] != "ready" {
		t.Errorf("ready: %d %v", status, body)
	}

	down := newTestServer(t, map[string]handlers.Pinger{"redis": fakePinger{err: errors.New("connection refused")}})
	status, body := down.do(t, fiber.MethodGet, "/health/ready", nil)
	if status != fiber.StatusServiceUnavailable || errorCode(body) != "DEPENDENCY_UNAVAILABLE" {
		t.Errorf("not ready: %d %v", status, body)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.ingest(t, "hello")

	status, body := srv.do(t, fiber.MethodGet, "/metrics", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	requests := body["data"].(map[string]any)["requests"].(map[string]any)
	found := false
	for key, count := range requests {
		if strings.HasSuffix(key, "ingest|POST|201") && count == float64(1) {
			found = true
		}
	}
	if !found {
		t.Errorf("requests = %v", requests)
	}
}

func TestStreamDeliversQueryEvents(t *testing.T) {
	srv := newTestServer(t, nil)

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		req := httptest.NewRequest(fiber.MethodGet, "/api/queries/stream", nil)
		resp, err := srv.app.Test(req, -1)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get(fiber.HeaderContentType); ct != "text/event-stream" {
			done <- result{err: errors.New("unexpected content type " + ct)}
			return
		}
		raw, err := io.ReadAll(resp.Body)
		done <- result{body: string(raw), err: err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	created := srv.ingest(t, "I have an urgent problem")
	srv.do(t, fiber.MethodPost, "/api/queries/"+created["id"].(string)+"/update", map[string]any{"status": "Resolved"})
	srv.hub.Close()

	var res result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after hub close")
	}
	if res.err != nil {
		t.Fatalf("stream request: %v", res.err)
	}

	newIdx := strings.Index(res.body, "event: newQuery")
	updIdx := strings.Index(res.body, "event: queryUpdated")
	if newIdx < 0 || updIdx < 0 || updIdx < newIdx {
		t.Fatalf("stream body missing ordered events:\n%s", res.body)
	}

	var lastData string
	for _, line := range strings.Split(res.body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			lastData = strings.TrimPrefix(line, "data: ")
		}
	}
	var payload dto.QueryEventResponse
	if err := json.Unmarshal([]byte(lastData), &payload); err != nil {
		t.Fatalf("decode event data: %v", err)
	}
	if payload.Query.Status != "Resolved" || payload.QueryID != created["id"] {
		t.Errorf("unexpected event payload: %+v", payload)
	}
	if srv.hub.SubscriberCount() != 0 {
		t.Error("stream should unsubscribe on exit")
	}
}

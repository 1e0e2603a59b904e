package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/spec-kit/query-service/internal/domain"
)

func newClassifierServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			t.Errorf("classifier received bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClassifierResponses(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantTags []string
		wantPrio domain.QueryPriority
	}{
		{
			name:     "valid",
			status:   http.StatusOK,
			body:     `{"tags":["billing"],"priority":"Urgent"}`,
			wantTags: []string{"billing"},
			wantPrio: domain.PriorityUrgent,
		},
		{
			name:     "missing priority defaults to medium",
			status:   http.StatusOK,
			body:     `{"tags":["Question"]}`,
			wantTags: []string{"Question"},
			wantPrio: domain.PriorityMedium,
		},
		{name: "missing tags", status: http.StatusOK, body: `{"priority":"High"}`, wantErr: ErrMalformedResponse},
		{name: "tags not a list", status: http.StatusOK, body: `{"tags":"billing","priority":"High"}`, wantErr: ErrMalformedResponse},
		{name: "tags with non-strings", status: http.StatusOK, body: `{"tags":[1,2],"priority":"High"}`, wantErr: ErrMalformedResponse},
		{name: "empty tags", status: http.StatusOK, body: `{"tags":[],"priority":"High"}`, wantErr: ErrMalformedResponse},
		{name: "unknown priority", status: http.StatusOK, body: `{"tags":["x"],"priority":"Critical"}`, wantErr: ErrMalformedResponse},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantErr: ErrMalformedResponse},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, wantErr: ErrUnavailable},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"No text provided"}`, wantErr: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newClassifierServer(t, tt.status, tt.body)
			result, err := NewHTTPClassifier(srv.URL, srv.Client()).Classify(context.Background(), "some text")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(result.Tags, tt.wantTags) || result.Priority != tt.wantPrio {
				t.Errorf("result = %+v", result)
			}
		})
	}
}

func TestHTTPClassifierHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewHTTPClassifier(srv.URL, nil).Classify(ctx, "text")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("classification did not respect the deadline")
	}
}

func TestHTTPClassifierUnreachable(t *testing.T) {
	_, err := NewHTTPClassifier("http://127.0.0.1:1/classify", nil).Classify(context.Background(), "text")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

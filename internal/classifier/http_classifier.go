package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spec-kit/query-service/internal/domain"
)

const maxResponseBytes = 1 << 20

type classifyRequest struct {
	Text string `json:"text"`
}

// classifyResponse keeps tags raw so that a non-array value is detected
// instead of silently decoding to nil.
type classifyResponse struct {
	Tags     json.RawMessage `json:"tags"`
	Priority *string         `json:"priority"`
}

// HTTPClassifier calls an external classification service over HTTP.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

// NewHTTPClassifier builds a client for the service at url. Timeouts come
// from the caller's context.
func NewHTTPClassifier(url string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClassifier{url: url, client: client}
}

// Classify posts text and validates the response shape.
func (h *HTTPClassifier) Classify(ctx context.Context, text string) (Result, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return parseResponse(raw)
}

func parseResponse(raw []byte) (Result, error) {
	var decoded classifyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	trimmed := bytes.TrimSpace(decoded.Tags)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Result{}, fmt.Errorf("%w: tags missing or not a list", ErrMalformedResponse)
	}
	var tags []string
	if err := json.Unmarshal(trimmed, &tags); err != nil {
		return Result{}, fmt.Errorf("%w: tags: %v", ErrMalformedResponse, err)
	}

	priority := domain.PriorityMedium
	if decoded.Priority != nil && strings.TrimSpace(*decoded.Priority) != "" {
		parsed, ok := domain.ParsePriority(*decoded.Priority)
		if !ok {
			return Result{}, fmt.Errorf("%w: unknown priority %q", ErrMalformedResponse, *decoded.Priority)
		}
		priority = parsed
	}

	result := Result{Tags: tags, Priority: priority}
	if err := result.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: empty tags", err)
	}
	return result, nil
}

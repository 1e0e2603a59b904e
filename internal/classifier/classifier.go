// Package classifier turns raw query text into tags and a suggested priority.
//
// Every implementation is untrusted from the caller's point of view: results
// should pass Result.Validate before use, and any error means the caller
// applies its own fallback.
package classifier

import (
	"context"
	"errors"
	"strings"

	"github.com/spec-kit/query-service/internal/domain"
)

var (
	// ErrUnavailable reports that the classifier could not be reached or failed.
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrMalformedResponse reports a response missing tags or carrying invalid fields.
	ErrMalformedResponse = errors.New("malformed classifier response")
)

// Result is a validated classification.
type Result struct {
	Tags     []string             `json:"tags"`
	Priority domain.QueryPriority `json:"priority"`
}

// Classifier classifies raw query text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Result, error)
}

// Validate checks that r carries at least one tag and a known priority.
func (r Result) Validate() error {
	if len(r.Tags) == 0 {
		return ErrMalformedResponse
	}
	for _, tag := range r.Tags {
		if strings.TrimSpace(tag) == "" {
			return ErrMalformedResponse
		}
	}
	if _, ok := domain.ParsePriority(string(r.Priority)); !ok {
		return ErrMalformedResponse
	}
	return nil
}

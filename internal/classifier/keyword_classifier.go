package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/spec-kit/query-service/internal/domain"
)

// Tags produced by the keyword classifier.
const (
	TagComplaint      = "Complaint"
	TagQuestion       = "Question"
	TagFeatureRequest = "Feature Request"
	TagAccountBilling = "Account/Billing"
	TagGeneralInquiry = "General Inquiry"
)

type keywordRule struct {
	tag     string
	pattern *regexp.Regexp
}

var keywordRules = []keywordRule{
	{TagComplaint, regexp.MustCompile(`complaint|problem|broken|error|issue|unhappy|not working|failed`)},
	{TagQuestion, regexp.MustCompile(`question|how to|where is|can i get|what is`)},
	{TagFeatureRequest, regexp.MustCompile(`feature|suggest|request|wish|idea|should add`)},
	{TagAccountBilling, regexp.MustCompile(`login|password|account|billing|charge|invoice`)},
}

var urgentPhrases = []string{"urgent", "immediate", "security issue", "cannot login"}

// KeywordClassifier is the in-process classifier used when no external
// classification service is configured.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the rule based classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify never fails.
func (k *KeywordClassifier) Classify(ctx context.Context, text string) (Result, error) {
	lower := strings.ToLower(text)

	tags := []string{}
	for _, rule := range keywordRules {
		if rule.pattern.MatchString(lower) {
			tags = append(tags, rule.tag)
		}
	}

	priority := domain.PriorityLow
	switch {
	case containsAny(lower, urgentPhrases):
		priority = domain.PriorityUrgent
	case hasTag(tags, TagComplaint) || strings.Contains(lower, "error") || strings.Contains(lower, "broken"):
		priority = domain.PriorityHigh
	case hasTag(tags, TagFeatureRequest) || hasTag(tags, TagQuestion):
		priority = domain.PriorityMedium
	}

	if len(tags) == 0 {
		tags = append(tags, TagGeneralInquiry)
	}
	return Result{Tags: tags, Priority: priority}, nil
}

func containsAny(s string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

package domain

import (
	"strings"
	"time"
)

// SourceChannel identifies where a query came from.
type SourceChannel string

const (
	ChannelEmail             SourceChannel = "Email"
	ChannelTwitter           SourceChannel = "Twitter"
	ChannelFacebook          SourceChannel = "Facebook"
	ChannelManual            SourceChannel = "Manual"
	ChannelSimulated         SourceChannel = "Simulated"
	ChannelTwitterDM         SourceChannel = "Twitter DM"
	ChannelFacebookMessenger SourceChannel = "Facebook Messenger"
	ChannelCommunityForum    SourceChannel = "Community Forum"
	ChannelInternalFeedback  SourceChannel = "Internal Feedback"
)

// QueryPriority enumerates urgency levels.
type QueryPriority string

const (
	PriorityLow    QueryPriority = "Low"
	PriorityMedium QueryPriority = "Medium"
	PriorityHigh   QueryPriority = "High"
	PriorityUrgent QueryPriority = "Urgent"
)

// QueryStatus enumerates lifecycle states for queries.
type QueryStatus string

const (
	StatusNew        QueryStatus = "New"
	StatusInProgress QueryStatus = "In Progress"
	StatusOnHold     QueryStatus = "On Hold"
	StatusResolved   QueryStatus = "Resolved"
	StatusEscalated  QueryStatus = "Escalated"
)

// Unassigned is the assignee sentinel for queries nobody owns.
const Unassigned = "Unassigned"

// ClassificationFailedTag replaces the tags of a query whose classification was unavailable.
const ClassificationFailedTag = "Classification Failed"

var (
	channels   = []SourceChannel{ChannelEmail, ChannelTwitter, ChannelFacebook, ChannelManual, ChannelSimulated, ChannelTwitterDM, ChannelFacebookMessenger, ChannelCommunityForum, ChannelInternalFeedback}
	priorities = []QueryPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
	statuses   = []QueryStatus{StatusNew, StatusInProgress, StatusOnHold, StatusResolved, StatusEscalated}
)

// ParseSourceChannel accepts the canonical value or its compact form ("TwitterDM").
func ParseSourceChannel(raw string) (SourceChannel, bool) {
	return parseEnum(raw, channels)
}

// ParsePriority accepts any casing of a priority name.
func ParsePriority(raw string) (QueryPriority, bool) {
	return parseEnum(raw, priorities)
}

// ParseStatus accepts the canonical value or its compact form ("InProgress").
func ParseStatus(raw string) (QueryStatus, bool) {
	return parseEnum(raw, statuses)
}

func parseEnum[T ~string](raw string, values []T) (T, bool) {
	key := compact(raw)
	if key == "" {
		return "", false
	}
	for _, v := range values {
		if compact(string(v)) == key {
			return v, true
		}
	}
	return "", false
}

func compact(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// ResponseMetrics holds elapsed seconds since creation. Each field is written once.
type ResponseMetrics struct {
	FirstResponseTime *float64 `json:"firstResponseTime"`
	ResolutionTime    *float64 `json:"resolutionTime"`
}

// Query is the aggregate for an inbound customer contact.
type Query struct {
	ID              string          `json:"id"`
	SourceChannel   SourceChannel   `json:"sourceChannel"`
	SourceID        string          `json:"sourceId"`
	RawText         string          `json:"rawText"`
	AutoTags        []string        `json:"autoTags"`
	Priority        QueryPriority   `json:"priority"`
	Status          QueryStatus     `json:"status"`
	AssignedTo      string          `json:"assignedTo"`
	History         []HistoryEntry  `json:"history"`
	ResponseMetrics ResponseMetrics `json:"responseMetrics"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// AppendHistory records an audit entry at ts.
func (q *Query) AppendHistory(ts time.Time, action, details string) {
	q.History = append(q.History, HistoryEntry{Timestamp: ts, Action: action, Details: details})
}

// Clone returns a deep copy so callers never share slices or metric pointers with the store.
func (q *Query) Clone() *Query {
	if q == nil {
		return nil
	}
	c := *q
	if q.AutoTags != nil {
		c.AutoTags = append([]string(nil), q.AutoTags...)
	}
	if q.History != nil {
		c.History = append([]HistoryEntry(nil), q.History...)
	}
	c.ResponseMetrics = ResponseMetrics{
		FirstResponseTime: copyFloat(q.ResponseMetrics.FirstResponseTime),
		ResolutionTime:    copyFloat(q.ResponseMetrics.ResolutionTime),
	}
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

package dto

import (
	"time"

	"github.com/spec-kit/query-service/internal/domain"
)

// IngestQueryRequest payload.
type IngestQueryRequest struct {
	SourceChannel string `json:"sourceChannel"`
	SourceID      string `json:"sourceId"`
	RawText       string `json:"rawText"`
}

// UpdateQueryRequest payload. Absent fields leave the query unchanged; an
// empty assignedTo unassigns.
type UpdateQueryRequest struct {
	Status     *string `json:"status"`
	AssignedTo *string `json:"assignedTo"`
	Action     string  `json:"action"`
	Details    string  `json:"details"`
}

// HistoryEntryResponse is one audit trail line.
type HistoryEntryResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// ResponseMetricsResponse carries elapsed seconds since creation.
type ResponseMetricsResponse struct {
	FirstResponseTime *float64 `json:"firstResponseTime"`
	ResolutionTime    *float64 `json:"resolutionTime"`
}

// QueryResponse is the full query representation.
type QueryResponse struct {
	ID              string                  `json:"id"`
	SourceChannel   string                  `json:"sourceChannel"`
	SourceID        string                  `json:"sourceId"`
	RawText         string                  `json:"rawText"`
	AutoTags        []string                `json:"autoTags"`
	Priority        string                  `json:"priority"`
	Status          string                  `json:"status"`
	AssignedTo      string                  `json:"assignedTo"`
	History         []HistoryEntryResponse  `json:"history"`
	ResponseMetrics ResponseMetricsResponse `json:"responseMetrics"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

// NewQueryResponse maps a domain query.
func NewQueryResponse(q *domain.Query) QueryResponse {
	history := make([]HistoryEntryResponse, 0, len(q.History))
	for _, entry := range q.History {
		history = append(history, HistoryEntryResponse{
			Timestamp: entry.Timestamp,
			Action:    entry.Action,
			Details:   entry.Details,
		})
	}
	tags := q.AutoTags
	if tags == nil {
		tags = []string{}
	}
	return QueryResponse{
		ID:            q.ID,
		SourceChannel: string(q.SourceChannel),
		SourceID:      q.SourceID,
		RawText:       q.RawText,
		AutoTags:      tags,
		Priority:      string(q.Priority),
		Status:        string(q.Status),
		AssignedTo:    q.AssignedTo,
		History:       history,
		ResponseMetrics: ResponseMetricsResponse{
			FirstResponseTime: q.ResponseMetrics.FirstResponseTime,
			ResolutionTime:    q.ResponseMetrics.ResolutionTime,
		},
		CreatedAt: q.CreatedAt,
		UpdatedAt: q.UpdatedAt,
	}
}

// QueryEventResponse is the payload pushed to stream observers.
type QueryEventResponse struct {
	ID        string        `json:"id"`
	QueryID   string        `json:"queryId"`
	Timestamp time.Time     `json:"timestamp"`
	Query     QueryResponse `json:"query"`
}

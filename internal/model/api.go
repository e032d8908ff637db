package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field length limits for relationship fields.
const (
	MaxNameLen       = 200
	MaxCategoryLen   = 64
	MaxCategoryCount = 16
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// CreateRelationshipRequest is the request body for POST /v1/relationships.
type CreateRelationshipRequest struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories,omitempty"`
}

// NewRelationship validates req and builds a relationship record.
func NewRelationship(req CreateRelationshipRequest, now time.Time) (Relationship, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Relationship{}, fmt.Errorf("name is required")
	}
	if len(name) > MaxNameLen {
		return Relationship{}, fmt.Errorf("name exceeds maximum length of %d characters", MaxNameLen)
	}
	if len(req.Categories) > MaxCategoryCount {
		return Relationship{}, fmt.Errorf("at most %d categories are allowed", MaxCategoryCount)
	}
	cats := make([]string, 0, len(req.Categories))
	for i, c := range req.Categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if len(c) > MaxCategoryLen {
			return Relationship{}, fmt.Errorf("categories[%d] exceeds maximum length of %d characters", i, MaxCategoryLen)
		}
		cats = append(cats, c)
	}
	return Relationship{
		ID:         uuid.New(),
		Name:       name,
		Categories: cats,
		CreatedAt:  now.UTC(),
	}, nil
}

// RecordResult is the response for POST /v1/interactions.
type RecordResult struct {
	ProcessResult
	Quests []Quest `json:"quests"`
	// StageAdvanced is set when this interaction moved the evolution stage forward.
	StageAdvanced bool `json:"stage_advanced"`
}

// RelationshipSummary is the response for GET /v1/relationships/{id}.
type RelationshipSummary struct {
	Relationship Relationship         `json:"relationship"`
	Progress     RelationshipProgress `json:"progress"`
	Title        string               `json:"title"`
	XPForNext    int                  `json:"xp_for_next"`
	InLevel      float64              `json:"in_level"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Storage  string `json:"storage"`
	Backend  string `json:"backend"`
	Analysis string `json:"analysis"`
	Uptime   int64  `json:"uptime_seconds"`
}

// TreeEvolution is the response for GET /v1/relationships/{id}/tree/next.
type TreeEvolution struct {
	Next       string  `json:"next"`
	Completion float64 `json:"completion"`
}

// LevelInfo is one row of GET /v1/levels.
type LevelInfo struct {
	Level       int    `json:"level"`
	Title       string `json:"title"`
	Threshold   int    `json:"threshold"`
	Achievement string `json:"achievement,omitempty"`
}

package model

import (
	"database/sql"
	"time"
)

// APIKey is a gateway credential issued to a client. Only the SHA-256
// hash of the key material is stored.
type APIKey struct {
	ID         string       `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	KeyHash    string       `db:"key_hash" json:"-"`            // Never return hash
	KeyPrefix  string       `db:"key_prefix" json:"key_prefix"` // Display only
	IsActive   bool         `db:"is_active" json:"is_active"`
	LastUsedAt sql.NullTime `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// RequestLog captures the dispatch outcome of one completed request:
// what the client asked for, what it resolved to, and how the upstream
// call went.
type RequestLog struct {
	ID             string        `db:"id" json:"id"`
	Provider       string        `db:"provider" json:"provider"`
	RequestedModel string        `db:"requested_model" json:"requested_model"`
	ResolvedModel  string        `db:"resolved_model" json:"resolved_model"`
	WasResolved    bool          `db:"was_resolved" json:"was_resolved"`
	FinishReason   string        `db:"finish_reason" json:"finish_reason"`
	InputTokens    int           `db:"input_tokens" json:"input_tokens"`
	OutputTokens   int           `db:"output_tokens" json:"output_tokens"`
	LatencyMS      int64         `db:"latency_ms" json:"latency_ms"`
	TTFTMS         sql.NullInt64 `db:"ttft_ms" json:"ttft_ms,omitempty"`
	StatusCode     int           `db:"status_code" json:"status_code"`
	IsStreamed     bool          `db:"is_streamed" json:"is_streamed"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// DailyStats represents aggregated usage data for a specific day.
type DailyStats struct {
	Date           string  `db:"date" json:"date"`
	TotalRequests  int     `db:"total_requests" json:"total_requests"`
	TotalTokens    int     `db:"total_tokens" json:"total_tokens"`
	AverageLatency float64 `db:"avg_latency" json:"avg_latency"`
}

// ProviderStats aggregates usage per upstream provider.
type ProviderStats struct {
	Provider      string `db:"provider" json:"provider"`
	TotalRequests int    `db:"total_requests" json:"total_requests"`
	TotalTokens   int    `db:"total_tokens" json:"total_tokens"`
	ErrorCount    int    `db:"error_count" json:"error_count"`
}

// Package events defines the closed set of pipeline event types and their payloads.
//
// The outbox treats payloads as opaque JSON. This package is the typed
// boundary: publishers encode a Payload, handlers decode it back with Decode
// or register a typed function with Handle.
package events

import (
	"time"

	"github.com/goccy/go-json"
)

// Type names a pipeline event.
type Type string

// Event types published by the pipeline.
const (
	ArticleJobCreated          Type = "article.job.created"
	ArticleExtractionRequested Type = "article.job.extraction_requested"
	ArticleGenerationRequested Type = "article.job.generation_requested"
	ArticleJobCompleted        Type = "article.job.completed"
	ArticleJobFailed           Type = "article.job.failed"
	RegulationScrapeRequested  Type = "regulation.scrape_requested"
	WebhookReceived            Type = "webhook.received"
	SystemStatusRefresh        Type = "system.status_refresh"
	NotificationEmailRequested Type = "notification.email_requested"
)

var known = []Type{
	ArticleJobCreated,
	ArticleExtractionRequested,
	ArticleGenerationRequested,
	ArticleJobCompleted,
	ArticleJobFailed,
	RegulationScrapeRequested,
	WebhookReceived,
	SystemStatusRefresh,
	NotificationEmailRequested,
}

// Types returns every known event type.
func Types() []Type {
	out := make([]Type, len(known))
	copy(out, known)

	return out
}

// Known reports whether t belongs to the closed set.
func Known(t Type) bool {
	for _, k := range known {
		if k == t {
			return true
		}
	}

	return false
}

func (t Type) String() string {
	return string(t)
}

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
}

// JobCreated starts an article job for a source.
type JobCreated struct {
	JobID       string `json:"job_id"`
	SourceSlug  string `json:"source_slug"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// EventType implements Payload.
func (JobCreated) EventType() Type { return ArticleJobCreated }

// ExtractionRequested asks the extraction stage to process a fetched document.
type ExtractionRequested struct {
	JobID      string `json:"job_id"`
	SourceSlug string `json:"source_slug"`
	SourceURL  string `json:"source_url"`
}

// EventType implements Payload.
func (ExtractionRequested) EventType() Type { return ArticleExtractionRequested }

// GenerationRequested asks the generation stage to draft an article from extracted facts.
type GenerationRequested struct {
	JobID        string `json:"job_id"`
	ExtractionID string `json:"extraction_id"`
	RiskTier     string `json:"risk_tier,omitempty"`
}

// EventType implements Payload.
func (GenerationRequested) EventType() Type { return ArticleGenerationRequested }

// JobCompleted reports a finished article job.
type JobCompleted struct {
	JobID     string `json:"job_id"`
	ArticleID string `json:"article_id"`
}

// EventType implements Payload.
func (JobCompleted) EventType() Type { return ArticleJobCompleted }

// JobFailed reports an article job that needs manual attention.
type JobFailed struct {
	JobID  string `json:"job_id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// EventType implements Payload.
func (JobFailed) EventType() Type { return ArticleJobFailed }

// ScrapeRequested asks for a regulation source to be fetched.
type ScrapeRequested struct {
	SourceSlug string     `json:"source_slug"`
	URL        string     `json:"url"`
	NotBefore  *time.Time `json:"not_before,omitempty"`
}

// EventType implements Payload.
func (ScrapeRequested) EventType() Type { return RegulationScrapeRequested }

// Webhook carries an inbound webhook delivery for asynchronous handling.
type Webhook struct {
	Provider   string          `json:"provider"`
	DeliveryID string          `json:"delivery_id"`
	Body       json.RawMessage `json:"body"`
}

// EventType implements Payload.
func (Webhook) EventType() Type { return WebhookReceived }

// StatusRefresh asks for cached system status to be recomputed.
type StatusRefresh struct {
	Scope string `json:"scope"`
}

// EventType implements Payload.
func (StatusRefresh) EventType() Type { return SystemStatusRefresh }

// EmailRequested asks the notification stage to send a templated email.
type EmailRequested struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

// EventType implements Payload.
func (EmailRequested) EventType() Type { return NotificationEmailRequested }

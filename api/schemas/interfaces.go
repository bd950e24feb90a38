package schemas

import (
	"context"
	"time"
)

// -- Store Interface --

// OrderStore defines a generic interface for persisting scraped orders and
// their return deadlines. This abstraction allows the application to be
// independent of the specific database implementation (e.g., PostgreSQL,
// in-memory).
type OrderStore interface {
	// UpsertOrders saves a batch of orders, updating rows that already exist.
	UpsertOrders(ctx context.Context, orders []Order) error
	// ListOrders retrieves every stored order, most recent first.
	ListOrders(ctx context.Context) ([]Order, error)
	// DueBefore retrieves orders whose return deadline falls before the cutoff
	// and that have not yet been reminded.
	DueBefore(ctx context.Context, cutoff time.Time) ([]Order, error)
	// MarkReminded records that a reminder was issued for the given order ID.
	MarkReminded(ctx context.Context, orderID string) error
	// Close releases the underlying connection pool.
	Close()
}

// -- Resolution Interfaces --

// Resolver proposes interaction candidates for an intent against a page
// snapshot. Implementations include the fixed selector library, the LLM
// oracle, and the heuristic ranker.
type Resolver interface {
	// Resolve returns zero or more candidates for the intent, ordered by the
	// implementation's own confidence. An empty slice is not an error.
	Resolve(ctx context.Context, snap *PageSnapshot, intent Intent) ([]Candidate, error)
	// Name identifies the resolver in logs and failure reports.
	Name() string
}

// Snapshotter captures the interactable state of the current page.
type Snapshotter interface {
	// Capture walks the live DOM and returns a fresh snapshot. Handles in the
	// result are only valid until the next navigation.
	Capture(ctx context.Context) (*PageSnapshot, error)
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider (e.g., Gemini).
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client (e.g., network connections, SDK resources).
	Close() error
}

// Package models holds the data model shared by the TripSage agent core:
// workflow kinds, stored agent configuration, travel plans, approval
// records, bookings and conversation memory.
package models

import (
	"strconv"
	"time"
)

// ── Workflows ────────────────────────────────────────────────

// WorkflowKind names one of the agent workflows the core can build.
type WorkflowKind string

const (
	WorkflowChat          WorkflowKind = "chat"
	WorkflowFlight        WorkflowKind = "flightSearch"
	WorkflowAccommodation WorkflowKind = "accommodationSearch"
	WorkflowBudget        WorkflowKind = "budgetPlanning"
	WorkflowDestination   WorkflowKind = "destinationResearch"
	WorkflowItinerary     WorkflowKind = "itineraryPlanning"
	WorkflowRouter        WorkflowKind = "router"
)

// AllWorkflowKinds lists the kinds that have an agent builder, in display order.
var AllWorkflowKinds = []WorkflowKind{
	WorkflowChat,
	WorkflowFlight,
	WorkflowAccommodation,
	WorkflowBudget,
	WorkflowDestination,
	WorkflowItinerary,
}

// ── Agent Configuration ──────────────────────────────────────

// Defaults applied when a stored AgentConfig omits a parameter or holds a
// non-numeric value for it.
const (
	DefaultMaxSteps    = 10
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.3
)

// AgentConfig is the stored, loosely typed configuration for one workflow
// kind. Parameters come from YAML or JSON and may hold any value type.
type AgentConfig struct {
	Kind       WorkflowKind           `json:"kind" yaml:"kind"`
	Parameters map[string]interface{} `json:"parameters" yaml:"parameters"`
}

// AgentParameters is the numeric view of an AgentConfig after defaults.
type AgentParameters struct {
	MaxSteps    int      `json:"maxSteps"`
	MaxTokens   int      `json:"maxTokens"`
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"topP,omitempty"`
}

// Resolve extracts numeric parameters, falling back to the defaults for
// missing or invalid fields. TopP stays nil unless configured.
func (c AgentConfig) Resolve() AgentParameters {
	p := AgentParameters{
		MaxSteps:    DefaultMaxSteps,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
	if v, ok := getFloatConfig(c.Parameters, "maxSteps"); ok && v >= 1 {
		p.MaxSteps = int(v)
	}
	if v, ok := getFloatConfig(c.Parameters, "maxTokens"); ok && v >= 1 {
		p.MaxTokens = int(v)
	}
	if v, ok := getFloatConfig(c.Parameters, "temperature"); ok && v >= 0 {
		p.Temperature = v
	}
	if v, ok := getFloatConfig(c.Parameters, "topP"); ok && v > 0 && v <= 1 {
		topP := v
		p.TopP = &topP
	}
	return p
}

// WithMaxSteps returns a copy of the config with maxSteps overridden.
func (c AgentConfig) WithMaxSteps(n int) AgentConfig {
	params := make(map[string]interface{}, len(c.Parameters)+1)
	for k, v := range c.Parameters {
		params[k] = v
	}
	params["maxSteps"] = n
	return AgentConfig{Kind: c.Kind, Parameters: params}
}

// getFloatConfig extracts a number from a config map (handles float64 from
// JSON, ints from YAML and numeric strings).
func getFloatConfig(config map[string]interface{}, key string) (float64, bool) {
	v, ok := config[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ── Travel Plans ─────────────────────────────────────────────

type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusFinalized PlanStatus = "finalized"
)

// PlanComponents groups the items collected into a plan.
type PlanComponents struct {
	Flights        []map[string]interface{} `json:"flights"`
	Accommodations []map[string]interface{} `json:"accommodations"`
	Activities     []map[string]interface{} `json:"activities"`
	Transportation []map[string]interface{} `json:"transportation"`
	Notes          []string                 `json:"notes"`
}

// Plan is a persisted travel plan, stored under "travel_plan:<planId>".
type Plan struct {
	PlanID       string                 `json:"planId"`
	UserID       string                 `json:"userId"`
	Title        string                 `json:"title"`
	Destinations []string               `json:"destinations"`
	StartDate    string                 `json:"startDate"`
	EndDate      string                 `json:"endDate"`
	Travelers    int                    `json:"travelers"`
	Budget       *float64               `json:"budget,omitempty"`
	Preferences  map[string]interface{} `json:"preferences,omitempty"`
	Status       PlanStatus             `json:"status"`
	Components   PlanComponents         `json:"components"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	FinalizedAt  *time.Time             `json:"finalizedAt,omitempty"`
}

// ── Approval Records ─────────────────────────────────────────

type ApprovalStatus string

const (
	ApprovalPending ApprovalStatus = "pending"
	ApprovalGranted ApprovalStatus = "granted"
	ApprovalDenied  ApprovalStatus = "denied"
)

// ApprovalRecord gates one sensitive action for one idempotency key.
// Created pending on first check; resolved out of band.
type ApprovalRecord struct {
	ID             string         `json:"id" db:"id"`
	Action         string         `json:"action" db:"action"`
	IdempotencyKey string         `json:"idempotencyKey" db:"idempotency_key"`
	SessionID      string         `json:"sessionId" db:"session_id"`
	Status         ApprovalStatus `json:"status" db:"status"`
	ApproverID     string         `json:"approverId,omitempty" db:"approver_id"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// GateKey is the store key for an approval: action:idempotencyKey.
func (r *ApprovalRecord) GateKey() string {
	return ApprovalGateKey(r.Action, r.IdempotencyKey)
}

// ApprovalGateKey builds the store key for an (action, idempotencyKey) pair.
func ApprovalGateKey(action, idempotencyKey string) string {
	return action + ":" + idempotencyKey
}

// ── Bookings ─────────────────────────────────────────────────

// Booking is a confirmed accommodation booking.
type Booking struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"userId" db:"user_id"`
	SessionID        string    `json:"sessionId" db:"session_id"`
	IdempotencyKey   string    `json:"idempotencyKey" db:"idempotency_key"`
	ListingID        string    `json:"listingId" db:"listing_id"`
	ConfirmationCode string    `json:"confirmationCode" db:"confirmation_code"`
	CheckIn          string    `json:"checkIn" db:"check_in"`
	CheckOut         string    `json:"checkOut" db:"check_out"`
	Guests           int       `json:"guests" db:"guests"`
	TotalAmount      float64   `json:"totalAmount" db:"total_amount"`
	Currency         string    `json:"currency" db:"currency"`
	Status           string    `json:"status" db:"status"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
}

// ── Conversation Memory ──────────────────────────────────────

// MemoryRecord is one remembered fact or turn for a user.
type MemoryRecord struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	SessionID string    `json:"sessionId,omitempty" db:"session_id"`
	Category  string    `json:"category" db:"category"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

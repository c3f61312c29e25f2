package cerr

import (
	"net/http"
	"strings"
)

// Code is the wire-visible error vocabulary. Values are stable strings that
// clients and logs match on exactly; the prefix before the first underscore
// names the feature family.
type Code string

const (
	// Generic
	Unknown  = Code("unknown")
	Canceled = Code("canceled")
	Internal = Code("internal")

	// Configuration
	AgentConfigInvalid  = Code("agent_config_invalid")
	AgentUserRequired   = Code("agent_user_required")
	WorkflowUnsupported = Code("workflow_unsupported")
	WorkflowBadRequest  = Code("workflow_bad_request")

	// Token budget
	ContextLimitExceeded = Code("context_limit_exceeded")

	// Model
	ModelCallFailed      = Code("model_call_failed")
	ModelInvalidResponse = Code("model_invalid_response")

	// Tool runtime
	ToolRateLimited     = Code("tool_rate_limited")
	ToolNotFound        = Code("tool_not_found")
	ToolInvalidInput    = Code("tool_invalid_input")
	ToolExecutionFailed = Code("tool_execution_failed")
	ToolRepairFailed    = Code("tool_repair_failed")

	// Approvals
	ApprovalRequired       = Code("approval_required")
	ApprovalDenied         = Code("approval_denied")
	ApprovalMissingSession = Code("approval_missing_session")
	ApprovalNotFound       = Code("approval_not_found")
	ApprovalConflict       = Code("approval_conflict")

	// Accommodations
	AccomSearchRateLimited  = Code("accom_search_rate_limited")
	AccomSearchFailed       = Code("accom_search_failed")
	AccomDetailsFailed      = Code("accom_details_failed")
	AccomAvailabilityFailed = Code("accom_availability_failed")
	AccomBookingFailed      = Code("accom_booking_failed")
	AccomBookingRateLimited = Code("accom_booking_rate_limited")

	// Flights
	FlightSearchRateLimited = Code("flight_search_rate_limited")
	FlightSearchFailed      = Code("flight_search_failed")
	FlightNotConfigured     = Code("flight_not_configured")

	// Web search / crawl
	WebSearchNotConfigured = Code("web_search_not_configured")
	WebSearchRateLimited   = Code("web_search_rate_limited")
	WebSearchFailed        = Code("web_search_failed")
	WebCrawlFailed         = Code("web_crawl_failed")
	WebCrawlRateLimited    = Code("web_crawl_rate_limited")

	// Weather, maps, advisories
	WeatherFailed         = Code("weather_failed")
	WeatherRateLimited    = Code("weather_rate_limited")
	MapsFailed            = Code("maps_failed")
	MapsRateLimited       = Code("maps_rate_limited")
	AdvisoryFailed        = Code("advisory_failed")
	AdvisoryRateLimited   = Code("advisory_rate_limited")
	PoiLookupFailed       = Code("poi_lookup_failed")
	ProviderNotConfigured = Code("provider_not_configured")

	// Plans
	PlanNotFound     = Code("plan_not_found")
	PlanUnauthorized = Code("plan_unauthorized")
	PlanInvalid      = Code("plan_invalid")
	PlanStoreFailed  = Code("plan_store_failed")

	// Memory
	MemoryStoreFailed = Code("memory_store_failed")

	// Router
	RouterEmptyMessage         = Code("router_empty_message")
	RouterMessageTooLong       = Code("router_message_too_long")
	RouterClassificationFailed = Code("router_classification_failed")
)

func (c Code) String() string {
	return string(c)
}

// Family returns the feature prefix of the code ("accom", "tool", ...).
func (c Code) Family() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}

// RateLimited reports whether the code signals a rate-limit rejection.
func (c Code) RateLimited() bool {
	return strings.HasSuffix(string(c), "_rate_limited")
}

// HTTPCode maps a code to the HTTP status used at the API boundary.
func (c Code) HTTPCode() int {
	switch {
	case c.RateLimited():
		return http.StatusTooManyRequests
	}
	switch c {
	case Canceled:
		return 499
	case ApprovalRequired:
		return http.StatusAccepted
	case ApprovalDenied, PlanUnauthorized:
		return http.StatusForbidden
	case PlanNotFound, ApprovalNotFound, ToolNotFound:
		return http.StatusNotFound
	case ApprovalConflict:
		return http.StatusConflict
	case AgentUserRequired:
		return http.StatusUnauthorized
	case ToolInvalidInput, PlanInvalid, RouterEmptyMessage, RouterMessageTooLong,
		WorkflowUnsupported, WorkflowBadRequest, ContextLimitExceeded, ApprovalMissingSession:
		return http.StatusBadRequest
	case WebSearchNotConfigured, FlightNotConfigured, ProviderNotConfigured, AgentConfigInvalid:
		return http.StatusServiceUnavailable
	case ModelCallFailed, ModelInvalidResponse, RouterClassificationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

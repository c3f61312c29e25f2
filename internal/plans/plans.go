// Package plans persists travel plans in the key-value store under
// "travel_plan:<planId>". Drafts and finalized plans expire on different
// schedules; every save rewrites the TTL for the plan's current status.
package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/pkg/models"
)

const (
	KeyPrefix    = "travel_plan:"
	DraftTTL     = 7 * 24 * time.Hour
	FinalizedTTL = 30 * 24 * time.Hour

	dateLayout = "2006-01-02"
)

// Key returns the store key for a plan.
func Key(planID string) string { return KeyPrefix + planID }

// TTLFor returns the expiry applied to a plan in the given status.
func TTLFor(status models.PlanStatus) time.Duration {
	if status == models.PlanStatusFinalized {
		return FinalizedTTL
	}
	return DraftTTL
}

// CreateInput is the payload of createTravelPlan.
type CreateInput struct {
	UserID       string                 `json:"userId"`
	Title        string                 `json:"title"`
	Destinations []string               `json:"destinations"`
	StartDate    string                 `json:"startDate"`
	EndDate      string                 `json:"endDate"`
	Travelers    int                    `json:"travelers"`
	Budget       *float64               `json:"budget,omitempty"`
	Preferences  map[string]interface{} `json:"preferences,omitempty"`
}

// UpdateInput carries the fields of updateTravelPlan. Nil fields are left
// unchanged; component slices are appended.
type UpdateInput struct {
	Title          *string                  `json:"title,omitempty"`
	Destinations   []string                 `json:"destinations,omitempty"`
	StartDate      *string                  `json:"startDate,omitempty"`
	EndDate        *string                  `json:"endDate,omitempty"`
	Travelers      *int                     `json:"travelers,omitempty"`
	Budget         *float64                 `json:"budget,omitempty"`
	Flights        []map[string]interface{} `json:"flights,omitempty"`
	Accommodations []map[string]interface{} `json:"accommodations,omitempty"`
	Activities     []map[string]interface{} `json:"activities,omitempty"`
	Transportation []map[string]interface{} `json:"transportation,omitempty"`
	Notes          []string                 `json:"notes,omitempty"`
}

// Service manages plans for authenticated users.
type Service struct {
	kv  store.KV
	now func() time.Time
}

func NewService(kv store.KV) *Service {
	return &Service{kv: kv, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create validates the input and stores a new draft plan.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Plan, error) {
	if in.UserID == "" {
		return nil, cerr.New(cerr.PlanUnauthorized, "a user is required to create a plan", nil)
	}
	if in.Travelers == 0 {
		in.Travelers = 1
	}
	now := s.now().UTC()
	p := &models.Plan{
		PlanID:       uuid.New().String(),
		UserID:       in.UserID,
		Title:        strings.TrimSpace(in.Title),
		Destinations: in.Destinations,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Travelers:    in.Travelers,
		Budget:       in.Budget,
		Preferences:  in.Preferences,
		Status:       models.PlanStatusDraft,
		Components: models.PlanComponents{
			Flights:        []map[string]interface{}{},
			Accommodations: []map[string]interface{}{},
			Activities:     []map[string]interface{}{},
			Transportation: []map[string]interface{}{},
			Notes:          []string{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	if err := s.put(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Str("plan_id", p.PlanID).Str("user_id", p.UserID).Msg("Travel plan created")
	return p, nil
}

// Get loads a plan owned by userID.
func (s *Service) Get(ctx context.Context, userID, planID string) (*models.Plan, error) {
	if planID == "" {
		return nil, cerr.New(cerr.PlanInvalid, "planId is required", nil)
	}
	data, err := s.kv.Get(ctx, Key(planID))
	if store.IsNotFound(err) {
		return nil, cerr.Newf(cerr.PlanNotFound, "plan %s not found", planID)
	}
	if err != nil {
		return nil, cerr.New(cerr.PlanStoreFailed, "load plan", err)
	}
	var p models.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, cerr.New(cerr.PlanStoreFailed, "decode plan", err)
	}
	if p.UserID != userID {
		return nil, cerr.Newf(cerr.PlanUnauthorized, "plan %s belongs to another user", planID)
	}
	return &p, nil
}

// Update applies in to a plan. Finalized plans are read-only.
func (s *Service) Update(ctx context.Context, userID, planID string, in UpdateInput) (*models.Plan, error) {
	p, err := s.Get(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.PlanStatusFinalized {
		return nil, cerr.Newf(cerr.PlanInvalid, "plan %s is finalized", planID)
	}

	if in.Title != nil {
		p.Title = strings.TrimSpace(*in.Title)
	}
	if len(in.Destinations) > 0 {
		p.Destinations = in.Destinations
	}
	if in.StartDate != nil {
		p.StartDate = *in.StartDate
	}
	if in.EndDate != nil {
		p.EndDate = *in.EndDate
	}
	if in.Travelers != nil {
		p.Travelers = *in.Travelers
	}
	if in.Budget != nil {
		p.Budget = in.Budget
	}
	p.Components.Flights = append(p.Components.Flights, in.Flights...)
	p.Components.Accommodations = append(p.Components.Accommodations, in.Accommodations...)
	p.Components.Activities = append(p.Components.Activities, in.Activities...)
	p.Components.Transportation = append(p.Components.Transportation, in.Transportation...)
	p.Components.Notes = append(p.Components.Notes, in.Notes...)

	if err := validate(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save re-persists a plan, optionally finalizing it, and returns the plan
// with its markdown summary.
func (s *Service) Save(ctx context.Context, userID, planID string, finalize bool) (*models.Plan, string, error) {
	p, err := s.Get(ctx, userID, planID)
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	if finalize && p.Status != models.PlanStatusFinalized {
		p.Status = models.PlanStatusFinalized
		p.FinalizedAt = &now
	}
	p.UpdatedAt = now
	if err := s.put(ctx, p); err != nil {
		return nil, "", err
	}
	log.Info().
		Str("plan_id", p.PlanID).
		Str("status", string(p.Status)).
		Msg("Travel plan saved")
	return p, Summary(p), nil
}

// Delete removes a plan owned by userID.
func (s *Service) Delete(ctx context.Context, userID, planID string) error {
	if _, err := s.Get(ctx, userID, planID); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, Key(planID)); err != nil {
		return cerr.New(cerr.PlanStoreFailed, "delete plan", err)
	}
	log.Info().Str("plan_id", planID).Msg("Travel plan deleted")
	return nil
}

func (s *Service) put(ctx context.Context, p *models.Plan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return cerr.New(cerr.PlanStoreFailed, "encode plan", err)
	}
	if err := s.kv.Set(ctx, Key(p.PlanID), data, TTLFor(p.Status)); err != nil {
		return cerr.New(cerr.PlanStoreFailed, "store plan", err)
	}
	return nil
}

func validate(p *models.Plan) error {
	if p.Title == "" {
		return cerr.New(cerr.PlanInvalid, "title is required", nil)
	}
	if len(p.Destinations) == 0 {
		return cerr.New(cerr.PlanInvalid, "at least one destination is required", nil)
	}
	for _, d := range p.Destinations {
		if strings.TrimSpace(d) == "" {
			return cerr.New(cerr.PlanInvalid, "destinations must not be blank", nil)
		}
	}
	if p.Travelers < 1 {
		return cerr.New(cerr.PlanInvalid, "travelers must be at least 1", nil)
	}
	if p.Budget != nil && *p.Budget < 0 {
		return cerr.New(cerr.PlanInvalid, "budget must not be negative", nil)
	}
	start, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return cerr.New(cerr.PlanInvalid, "startDate must be YYYY-MM-DD", err)
	}
	end, err := time.Parse(dateLayout, p.EndDate)
	if err != nil {
		return cerr.New(cerr.PlanInvalid, "endDate must be YYYY-MM-DD", err)
	}
	if end.Before(start) {
		return cerr.New(cerr.PlanInvalid, "endDate is before startDate", nil)
	}
	return nil
}

// Summary renders a plan as markdown.
func Summary(p *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "**Destinations:** %s\n\n", strings.Join(p.Destinations, ", "))
	fmt.Fprintf(&b, "**Dates:** %s to %s\n\n", p.StartDate, p.EndDate)
	fmt.Fprintf(&b, "**Travelers:** %d\n\n", p.Travelers)
	if p.Budget != nil {
		fmt.Fprintf(&b, "**Budget:** %.2f\n\n", *p.Budget)
	}
	fmt.Fprintf(&b, "**Status:** %s\n", p.Status)

	section := func(title string, items []map[string]interface{}) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n## %s\n\n", title)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", describe(it))
		}
	}
	section("Flights", p.Components.Flights)
	section("Accommodations", p.Components.Accommodations)
	section("Activities", p.Components.Activities)
	section("Transportation", p.Components.Transportation)

	if len(p.Components.Notes) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, n := range p.Components.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

// describe picks the most readable field of a component.
func describe(item map[string]interface{}) string {
	for _, k := range []string{"name", "title", "description", "id"} {
		if v, ok := item[k].(string); ok && v != "" {
			return v
		}
	}
	b, _ := json.Marshal(item)
	return string(b)
}

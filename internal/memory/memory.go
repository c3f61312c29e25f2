// Package memory records and recalls per-user conversation memory for
// multi-turn chat.
package memory

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/cerr"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/pkg/models"
)

// Categories accepted by Add.
const (
	CategoryPreference = "user_preference"
	CategoryTravel     = "travel_history"
	CategoryFact       = "fact"
	CategoryTurn       = "conversation"
)

// maxContent bounds stored memory text.
const maxContent = 4000

// Service stores memories in a MemoryRecordStore.
type Service struct {
	store store.MemoryRecordStore
	now   func() time.Time
}

func NewService(s store.MemoryRecordStore) *Service {
	return &Service{store: s, now: time.Now}
}

// Add stores one memory for userID.
func (s *Service) Add(ctx context.Context, userID, sessionID, category, content string) (*models.MemoryRecord, error) {
	if userID == "" {
		return nil, cerr.New(cerr.AgentUserRequired, "memory requires a user", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, cerr.New(cerr.ToolInvalidInput, "memory content is empty", nil)
	}
	if len(content) > maxContent {
		content = content[:maxContent]
	}
	if category == "" {
		category = CategoryFact
	}

	rec := &models.MemoryRecord{
		ID:        ulid.Make().String(),
		UserID:    userID,
		SessionID: sessionID,
		Category:  category,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertMemory(ctx, rec); err != nil {
		return nil, cerr.New(cerr.MemoryStoreFailed, "store memory", err)
	}
	return rec, nil
}

// RecordTurn stores a user turn as a side effect. Failures are logged and
// never returned.
func (s *Service) RecordTurn(ctx context.Context, userID, sessionID, content string) {
	if _, err := s.Add(ctx, userID, sessionID, CategoryTurn, content); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to record conversation memory")
	}
}

// Search returns up to limit memories for userID ranked by keyword overlap
// with query, newest first among equal scores. An empty query returns the
// most recent memories.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]models.MemoryRecord, error) {
	if userID == "" {
		return nil, cerr.New(cerr.AgentUserRequired, "memory requires a user", nil)
	}
	if limit <= 0 {
		limit = 10
	}
	all, err := s.store.ListMemories(ctx, userID, 0)
	if err != nil {
		return nil, cerr.New(cerr.MemoryStoreFailed, "list memories", err)
	}

	terms := keywords(query)
	if len(terms) == 0 {
		if len(all) > limit {
			all = all[:limit]
		}
		return all, nil
	}

	type scored struct {
		rec   models.MemoryRecord
		score int
	}
	var hits []scored
	for _, m := range all {
		words := keywords(m.Content)
		n := 0
		for t := range terms {
			if _, ok := words[t]; ok {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{rec: m, score: n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.CreatedAt.After(hits[j].rec.CreatedAt)
	})

	out := make([]models.MemoryRecord, 0, limit)
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.rec)
	}
	return out, nil
}

func keywords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

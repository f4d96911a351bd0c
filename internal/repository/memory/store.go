package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store keeps relational state in process memory. It backs tests and local
// runs without Postgres; every read returns a copy.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]domain.SessionWindow
	campaigns   map[string]domain.Campaign
	items       map[string]domain.DMItem
	scenarios   map[string]domain.ScenarioDefinition
	enrollments map[string]domain.Enrollment
	rules       map[string]domain.AlertRule
	activity    map[activityKey]time.Time
}

type activityKey struct {
	account string
	user    string
	event   domain.GoalEvent
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions:    map[string]domain.SessionWindow{},
		campaigns:   map[string]domain.Campaign{},
		items:       map[string]domain.DMItem{},
		scenarios:   map[string]domain.ScenarioDefinition{},
		enrollments: map[string]domain.Enrollment{},
		rules:       map[string]domain.AlertRule{},
		activity:    map[activityKey]time.Time{},
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

func (s *Store) SaveSession(_ context.Context, w *domain.SessionWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[w.SessionID] = *w
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*domain.SessionWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.sessions[sessionID]
	if !ok {
		return nil, notFound("session", sessionID)
	}
	return &w, nil
}

func (s *Store) CreateCampaign(_ context.Context, c *domain.Campaign, items []*domain.DMItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[c.ID]; ok {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	for _, it := range items {
		if _, ok := s.items[it.ID]; ok {
			return fmt.Errorf("dm item %s already exists", it.ID)
		}
	}

	s.campaigns[c.ID] = *c
	for _, it := range items {
		s.items[it.ID] = *it
	}
	return nil
}

func (s *Store) GetCampaign(_ context.Context, campaignID string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, notFound("campaign", campaignID)
	}
	return &c, nil
}

func (s *Store) UpdateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[c.ID]; !ok {
		return notFound("campaign", c.ID)
	}
	s.campaigns[c.ID] = *c
	return nil
}

func (s *Store) GetItem(_ context.Context, itemID string) (*domain.DMItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return nil, notFound("dm item", itemID)
	}
	return &it, nil
}

func (s *Store) ListItems(_ context.Context, campaignID string) ([]*domain.DMItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterItems(func(it domain.DMItem) bool { return it.CampaignID == campaignID }), nil
}

func (s *Store) NextQueued(_ context.Context, campaignID string) (*domain.DMItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queued := s.filterItems(func(it domain.DMItem) bool {
		return it.CampaignID == campaignID && it.Status == domain.DMQueued
	})
	if len(queued) == 0 {
		return nil, notFound("queued item in campaign", campaignID)
	}
	return queued[0], nil
}

func (s *Store) SaveProgress(_ context.Context, c *domain.Campaign, item *domain.DMItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[c.ID]; !ok {
		return notFound("campaign", c.ID)
	}
	if _, ok := s.items[item.ID]; !ok {
		return notFound("dm item", item.ID)
	}
	s.campaigns[c.ID] = *c
	s.items[item.ID] = *item
	return nil
}

func (s *Store) CountActiveSince(_ context.Context, accountID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filterItems(func(it domain.DMItem) bool {
		return it.AccountID == accountID && countsTowardQuota(it, since)
	})), nil
}

func (s *Store) CountScenarioSince(_ context.Context, scenarioID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filterItems(func(it domain.DMItem) bool {
		return it.ScenarioID == scenarioID && countsTowardQuota(it, since)
	})), nil
}

func (s *Store) LastUserSend(_ context.Context, accountID, userID string, after time.Time) (*domain.DMItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.filterItems(func(it domain.DMItem) bool {
		return it.AccountID == accountID && it.UserID == userID &&
			it.Status != domain.DMError && it.QueuedAt.After(after)
	})
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}

func (s *Store) StaleSending(_ context.Context, before time.Time) ([]*domain.DMItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterItems(func(it domain.DMItem) bool {
		return it.Status == domain.DMSending && it.SendingAt != nil && it.SendingAt.Before(before)
	}), nil
}

func countsTowardQuota(it domain.DMItem, since time.Time) bool {
	return it.Status != domain.DMError && !it.QueuedAt.Before(since)
}

// filterItems must be called with the lock held. Results are ordered by queue time.
func (s *Store) filterItems(keep func(domain.DMItem) bool) []*domain.DMItem {
	out := make([]*domain.DMItem, 0)
	for _, it := range s.items {
		if keep(it) {
			copied := it
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) SaveScenario(_ context.Context, def *domain.ScenarioDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios[def.ID] = copyScenario(*def)
	return nil
}

func (s *Store) GetScenario(_ context.Context, scenarioID string) (*domain.ScenarioDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.scenarios[scenarioID]
	if !ok {
		return nil, notFound("scenario", scenarioID)
	}
	copied := copyScenario(def)
	return &copied, nil
}

func (s *Store) ActiveScenarios(_ context.Context, accountID string, trigger domain.TriggerType) ([]*domain.ScenarioDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.ScenarioDefinition, 0)
	for _, def := range s.scenarios {
		if def.IsActive && def.AccountID == accountID && def.TriggerType == trigger {
			copied := copyScenario(def)
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyScenario(def domain.ScenarioDefinition) domain.ScenarioDefinition {
	def.Steps = append([]domain.ScenarioStep(nil), def.Steps...)
	def.SegmentTargets = append([]domain.SegmentID(nil), def.SegmentTargets...)
	return def
}

func (s *Store) CreateEnrollment(_ context.Context, e *domain.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.enrollments {
		if existing.ScenarioID == e.ScenarioID && existing.UserID == e.UserID && existing.Status == domain.EnrollmentActive {
			return domain.ErrAlreadyEnrolled
		}
	}
	s.enrollments[e.ID] = *e
	return nil
}

func (s *Store) GetEnrollment(_ context.Context, enrollmentID string) (*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[enrollmentID]
	if !ok {
		return nil, notFound("enrollment", enrollmentID)
	}
	return &e, nil
}

func (s *Store) UpdateEnrollment(_ context.Context, e *domain.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrollments[e.ID]; !ok {
		return notFound("enrollment", e.ID)
	}
	s.enrollments[e.ID] = *e
	return nil
}

func (s *Store) DueEnrollments(_ context.Context, now time.Time, limit int) ([]*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Enrollment, 0)
	for _, e := range s.enrollments {
		if e.Status == domain.EnrollmentActive && e.NextStepDueAt != nil && !e.NextStepDueAt.After(now) {
			copied := e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextStepDueAt.Equal(*out[j].NextStepDueAt) {
			return out[i].NextStepDueAt.Before(*out[j].NextStepDueAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ActiveEnrollments(_ context.Context, accountID, userID string) ([]*domain.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Enrollment, 0)
	for _, e := range s.enrollments {
		if e.Status == domain.EnrollmentActive && e.AccountID == accountID && e.UserID == userID {
			copied := e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveAlertRule(_ context.Context, rule *domain.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = *rule
	return nil
}

func (s *Store) AlertRules(_ context.Context, accountID string) ([]domain.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AlertRule, 0)
	for _, r := range s.rules {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RecordActivity(_ context.Context, accountID, userID string, ev domain.GoalEvent, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := activityKey{accountID, userID, ev}
	if prev, ok := s.activity[k]; !ok || at.After(prev) {
		s.activity[k] = at
	}
	return nil
}

func (s *Store) LastActivity(_ context.Context, accountID, userID string, ev domain.GoalEvent) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.activity[activityKey{accountID, userID, ev}]
	return at, ok, nil
}

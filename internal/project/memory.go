package project

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs tests and the
// server when no database DSN is configured.
type InMemory struct {
	mu       sync.RWMutex
	projects map[string]Project
	drafts   map[string]Draft
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		projects: make(map[string]Project),
		drafts:   make(map[string]Draft),
	}
}

func (s *InMemory) CreateProject(_ context.Context, p Project) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return Project{}, fmt.Errorf("%w: duplicate project id %s", ErrValidation, p.ID)
	}
	s.projects[p.ID] = p
	return copyProject(p), nil
}

func (s *InMemory) GetProject(_ context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return copyProject(p), nil
}

func (s *InMemory) DecideProject(_ context.Context, id string, outcome Status, message string, at time.Time) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	if p.Status != StatusPending {
		return Project{}, ErrInvalidTransition
	}
	decided := at.UTC()
	p.Status = outcome
	p.StatusMessage = message
	p.DecidedAt = &decided
	s.projects[id] = p
	return copyProject(p), nil
}

func (s *InMemory) ListProjects(_ context.Context, f Filter) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Project, 0)
	for _, p := range s.projects {
		if f.OwnerID != "" && p.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if !p.Fields.Contains(f.Keyword) {
			continue
		}
		res = append(res, copyProject(p))
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].SubmittedAt.Equal(res[j].SubmittedAt) {
			return res[i].SubmittedAt.After(res[j].SubmittedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *InMemory) CountProjects(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.projects {
		if ownerID == "" || p.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) SaveDraft(_ context.Context, d Draft) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.drafts[d.ID]; ok {
		if existing.OwnerID != d.OwnerID {
			return Draft{}, ErrUnauthorized
		}
		d.CreatedAt = existing.CreatedAt
	}
	s.drafts[d.ID] = d
	return d, nil
}

func (s *InMemory) GetDraft(_ context.Context, id string) (Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return Draft{}, ErrNotFound
	}
	return d, nil
}

func (s *InMemory) ListDrafts(_ context.Context, ownerID string) ([]Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Draft, 0)
	for _, d := range s.drafts {
		if d.OwnerID == ownerID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (s *InMemory) DeleteDraft(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ownedDraftLocked(id, ownerID); err != nil {
		return err
	}
	delete(s.drafts, id)
	return nil
}

func (s *InMemory) PromoteDraft(_ context.Context, draftID, ownerID string, p Project) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ownedDraftLocked(draftID, ownerID); err != nil {
		return Project{}, err
	}
	if _, ok := s.projects[p.ID]; ok {
		return Project{}, fmt.Errorf("%w: duplicate project id %s", ErrValidation, p.ID)
	}
	delete(s.drafts, draftID)
	s.projects[p.ID] = p
	return copyProject(p), nil
}

func (s *InMemory) ownedDraftLocked(id, ownerID string) error {
	d, ok := s.drafts[id]
	if !ok {
		return ErrNotFound
	}
	if d.OwnerID != ownerID {
		return ErrUnauthorized
	}
	return nil
}

func copyProject(p Project) Project {
	if p.DecidedAt != nil {
		at := *p.DecidedAt
		p.DecidedAt = &at
	}
	return p
}

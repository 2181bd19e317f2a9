package project

import (
	"context"
	"time"
)

// Store persists projects and drafts. Implementations must make DecideProject a
// compare-and-swap on status PENDING and PromoteDraft a single atomic step.
type Store interface {
	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	// DecideProject moves a PENDING project to outcome. It returns ErrNotFound for an
	// unknown id and ErrInvalidTransition when the project is no longer PENDING.
	DecideProject(ctx context.Context, id string, outcome Status, message string, at time.Time) (Project, error)
	// ListProjects returns matches ordered by submission time, newest first, ties by id
	// descending. The result is never nil.
	ListProjects(ctx context.Context, f Filter) ([]Project, error)
	CountProjects(ctx context.Context, ownerID string) (int, error)

	// SaveDraft inserts or updates d. Updating a draft owned by someone else returns
	// ErrUnauthorized. CreatedAt of an existing draft is preserved.
	SaveDraft(ctx context.Context, d Draft) (Draft, error)
	GetDraft(ctx context.Context, id string) (Draft, error)
	// ListDrafts returns ownerID's drafts, newest first. The result is never nil.
	ListDrafts(ctx context.Context, ownerID string) ([]Draft, error)
	DeleteDraft(ctx context.Context, id, ownerID string) error
	// PromoteDraft deletes the draft and creates p in one step.
	PromoteDraft(ctx context.Context, draftID, ownerID string, p Project) (Project, error)
}

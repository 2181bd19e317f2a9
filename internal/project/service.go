package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/events"
	"genaiportal.org/internal/ids"
	"genaiportal.org/internal/obs"
)

// Notifier receives an invalidation signal after every successful mutation.
type Notifier interface {
	Publish(evt events.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(events.Event) {}

// Service enforces the Role Policy and the project lifecycle on top of a Store. Every
// operation takes the caller's session explicitly and checks capabilities before the
// store is touched.
type Service struct {
	store  Store
	notify Notifier
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithNotifier sets the invalidation signal sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notify = n
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service over store.
func NewService(store Store, opts ...Option) *Service {
	svc := &Service{store: store, notify: nopNotifier{}, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create submits a new project owned by the caller. All fields are required.
func (s *Service) Create(ctx context.Context, sess auth.Session, fields Fields) (Project, error) {
	if err := auth.Require(sess, auth.CapCreateProject); err != nil {
		return Project{}, err
	}
	p, err := s.newProject(sess, fields)
	if err != nil {
		return Project{}, err
	}
	created, err := s.store.CreateProject(ctx, p)
	if err != nil {
		return Project{}, err
	}
	obs.ProjectCreated()
	s.emit(events.KindProjectCreated, created.ID, "", created.OwnerID, created.Status)
	return created, nil
}

// Decide moves a PENDING project to APPROVED or REJECTED. A reason is mandatory for
// both outcomes. Deciding a project that has already left PENDING fails with
// ErrInvalidTransition and leaves it untouched.
func (s *Service) Decide(ctx context.Context, sess auth.Session, id string, outcome Status, message string) (Project, error) {
	if err := auth.Require(sess, auth.CapApproveRejectProject); err != nil {
		return Project{}, err
	}
	outcome = Status(strings.ToUpper(strings.TrimSpace(string(outcome))))
	if !outcome.Terminal() {
		return Project{}, fmt.Errorf("%w: outcome must be APPROVED or REJECTED, got %q", ErrValidation, outcome)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Project{}, fmt.Errorf("%w: statusMessage is required", ErrValidation)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Project{}, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	p, err := s.store.DecideProject(ctx, id, outcome, message, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			obs.DecisionConflict()
			return Project{}, fmt.Errorf("%w: project %s is no longer %s", ErrInvalidTransition, id, StatusPending)
		}
		return Project{}, err
	}
	obs.ProjectDecided(string(p.Status))
	s.emit(events.KindProjectDecided, p.ID, "", p.OwnerID, p.Status)
	return p, nil
}

// Get returns a single project. Callers who may not view it get ErrNotFound so that
// existence is not leaked.
func (s *Service) Get(ctx context.Context, sess auth.Session, id string) (Project, error) {
	if !sess.Authenticated() {
		return Project{}, ErrUnauthenticated
	}
	all := sess.Can(auth.CapViewAllProjects)
	own := sess.Can(auth.CapViewOwnProjects)
	if !all && !own {
		return Project{}, fmt.Errorf("%w: role %s may not view projects", ErrUnauthorized, sess.Role)
	}
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if !all && p.OwnerID != sess.UserID {
		return Project{}, ErrNotFound
	}
	return p, nil
}

// ListOwn returns the caller's submitted projects, newest first.
func (s *Service) ListOwn(ctx context.Context, sess auth.Session) ([]Project, error) {
	if err := auth.Require(sess, auth.CapViewOwnProjects); err != nil {
		return nil, err
	}
	return s.store.ListProjects(ctx, Filter{OwnerID: sess.UserID})
}

// CountOwn returns how many projects the caller has submitted.
func (s *Service) CountOwn(ctx context.Context, sess auth.Session) (int, error) {
	if err := auth.Require(sess, auth.CapViewOwnProjects); err != nil {
		return 0, err
	}
	return s.store.CountProjects(ctx, sess.UserID)
}

// ListAll returns every project, newest first.
func (s *Service) ListAll(ctx context.Context, sess auth.Session) ([]Project, error) {
	if err := auth.Require(sess, auth.CapViewAllProjects); err != nil {
		return nil, err
	}
	return s.store.ListProjects(ctx, Filter{})
}

// ListPending returns projects awaiting a decision. Only reviewers may call it.
func (s *Service) ListPending(ctx context.Context, sess auth.Session) ([]Project, error) {
	if err := auth.Require(sess, auth.CapApproveRejectProject); err != nil {
		if !sess.Can(auth.CapViewAllProjects) {
			return nil, err
		}
	}
	return s.store.ListProjects(ctx, Filter{Status: StatusPending})
}

// Search matches keyword case-insensitively against every text field and composes it
// with the status filter. No match yields an empty slice.
func (s *Service) Search(ctx context.Context, sess auth.Session, q Query) ([]Project, error) {
	if err := auth.Require(sess, auth.CapSearchProjects); err != nil {
		return nil, err
	}
	status, err := ParseStatus(string(q.Status))
	if err != nil {
		return nil, err
	}
	return s.store.ListProjects(ctx, Filter{Status: status, Keyword: strings.TrimSpace(q.Keyword)})
}

// SaveDraft inserts or updates one of the caller's drafts. Any field may be empty; a
// supplied status is refused because drafts carry no lifecycle state.
func (s *Service) SaveDraft(ctx context.Context, sess auth.Session, in DraftInput) (Draft, error) {
	if err := auth.Require(sess, auth.CapSaveDraft); err != nil {
		return Draft{}, err
	}
	if in.Status != "" {
		return Draft{}, fmt.Errorf("%w: drafts do not carry a status", ErrInvalidTransition)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = ids.New()
	} else if !ids.Valid(id) {
		return Draft{}, fmt.Errorf("%w: malformed draft id %q", ErrValidation, id)
	}
	now := s.now().UTC()
	saved, err := s.store.SaveDraft(ctx, Draft{
		ID:        id,
		OwnerID:   sess.UserID,
		Fields:    in.Fields.Trimmed(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Draft{}, err
	}
	obs.DraftSaved()
	s.emit(events.KindDraftSaved, "", saved.ID, saved.OwnerID, "")
	return saved, nil
}

// ListDrafts returns the caller's drafts, newest first.
func (s *Service) ListDrafts(ctx context.Context, sess auth.Session) ([]Draft, error) {
	if err := auth.Require(sess, auth.CapSaveDraft); err != nil {
		return nil, err
	}
	return s.store.ListDrafts(ctx, sess.UserID)
}

// DeleteDraft removes one of the caller's drafts.
func (s *Service) DeleteDraft(ctx context.Context, sess auth.Session, id string) error {
	if err := auth.Require(sess, auth.CapSaveDraft); err != nil {
		return err
	}
	if err := s.store.DeleteDraft(ctx, strings.TrimSpace(id), sess.UserID); err != nil {
		return err
	}
	s.emit(events.KindDraftDeleted, "", id, sess.UserID, "")
	return nil
}

// PromoteDraft submits a draft as a new project and removes the draft. Non-empty fields
// in the input override the stored draft; the merged result must pass the same
// validation as Create.
func (s *Service) PromoteDraft(ctx context.Context, sess auth.Session, draftID string, in DraftInput) (Project, error) {
	if err := auth.Require(sess, auth.CapCreateProject); err != nil {
		return Project{}, err
	}
	if in.Status != "" {
		return Project{}, fmt.Errorf("%w: drafts do not carry a status", ErrInvalidTransition)
	}
	draftID = strings.TrimSpace(draftID)
	d, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return Project{}, err
	}
	if d.OwnerID != sess.UserID {
		return Project{}, fmt.Errorf("%w: draft %s belongs to another user", ErrUnauthorized, draftID)
	}
	p, err := s.newProject(sess, in.Fields.Overlay(d.Fields))
	if err != nil {
		return Project{}, err
	}
	created, err := s.store.PromoteDraft(ctx, draftID, sess.UserID, p)
	if err != nil {
		return Project{}, err
	}
	obs.ProjectCreated()
	s.emit(events.KindDraftPromoted, created.ID, draftID, created.OwnerID, created.Status)
	return created, nil
}

func (s *Service) newProject(sess auth.Session, fields Fields) (Project, error) {
	fields = fields.Trimmed()
	if err := fields.Validate(); err != nil {
		return Project{}, err
	}
	now := s.now().UTC()
	return Project{
		ID:          ids.NewAt(now),
		OwnerID:     sess.UserID,
		Fields:      fields,
		Status:      StatusPending,
		SubmittedAt: now,
	}, nil
}

func (s *Service) emit(kind, projectID, draftID, ownerID string, status Status) {
	s.notify.Publish(events.Event{
		Kind:      kind,
		ProjectID: projectID,
		DraftID:   draftID,
		OwnerID:   ownerID,
		Status:    string(status),
		At:        s.now().UTC(),
	})
}

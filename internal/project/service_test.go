package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/events"
)

var (
	developer  = auth.Session{UserID: "dev-1", Name: "Developer User", Role: auth.RoleDeveloper}
	developer2 = auth.Session{UserID: "dev-2", Name: "Second Developer", Role: auth.RoleDeveloper}
	admin      = auth.Session{UserID: "adm-1", Name: "Admin User", Role: auth.RoleAdmin}
	master     = auth.Session{UserID: "mst-1", Name: "Master User", Role: auth.RoleMaster}
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// steppingClock advances one second per call so submission order is deterministic.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Second)
		return at
	}
}

func newService(t *testing.T) (*Service, *InMemory, *recorder) {
	t.Helper()
	store := NewInMemory()
	rec := &recorder{}
	return NewService(store, WithNotifier(rec), WithClock(steppingClock())), store, rec
}

func fullFields(title string) Fields {
	return Fields{
		Title:           title,
		Model:           "gpt-4o",
		Registrant:      "Developer User",
		Department:      "Platform",
		ProjectManager:  "Kim",
		Developers:      "Lee, Park",
		Description:     "Summarise support tickets",
		UsagePlan:       "Nightly batch",
		ExpectedEffects: "Faster triage",
		Duration:        "3 months",
	}
}

func mustCreate(t *testing.T, svc *Service, sess auth.Session, title string) Project {
	t.Helper()
	p, err := svc.Create(context.Background(), sess, fullFields(title))
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return p
}

func TestCreateThenDecideOnce(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	p := mustCreate(t, svc, developer, "Test A")
	if p.Status != StatusPending || p.StatusMessage != "" {
		t.Fatalf("new project should be pending without message: %+v", p)
	}
	if p.OwnerID != developer.UserID || p.SubmittedAt.IsZero() {
		t.Fatalf("unexpected creation record: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}

	approved, err := svc.Decide(ctx, admin, p.ID, StatusApproved, "ok")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if approved.Status != StatusApproved || approved.StatusMessage != "ok" || approved.DecidedAt == nil {
		t.Fatalf("unexpected decision: %+v", approved)
	}

	_, err = svc.Decide(ctx, admin, p.ID, StatusRejected, "no")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, err := svc.Get(ctx, admin, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusApproved || got.StatusMessage != "ok" {
		t.Fatalf("second decision must not change the project: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatal(err)
	}

	want := []string{events.KindProjectCreated, events.KindProjectDecided}
	if fmt.Sprint(rec.kinds()) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", rec.kinds(), want)
	}
}

func TestCreateRequiresEveryField(t *testing.T) {
	svc, store, _ := newService(t)
	f := fullFields("Missing")
	f.UsagePlan = "   "
	_, err := svc.Create(context.Background(), developer, f)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if n, _ := store.CountProjects(context.Background(), ""); n != 0 {
		t.Fatalf("nothing should be stored, got %d", n)
	}
}

func TestRoleChecksHappenBeforeStore(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, developer, "Gate")

	if _, err := svc.Decide(ctx, developer, p.ID, StatusApproved, "self-approve"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("developer decide: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Create(ctx, admin, fullFields("Admin")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admin create: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.ListAll(ctx, developer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("developer list all: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Search(ctx, developer, Query{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("developer search: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.ListPending(ctx, developer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("developer pending: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.SaveDraft(ctx, admin, DraftInput{Fields: Fields{Title: "x"}}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admin draft: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.ListOwn(ctx, auth.Session{Role: auth.RoleMaster}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous list: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := svc.ListOwn(ctx, auth.Session{UserID: "x", Role: "GUEST"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown role: expected ErrUnauthorized, got %v", err)
	}

	got, _ := store.GetProject(ctx, p.ID)
	if got.Status != StatusPending {
		t.Fatalf("refused decision must not mutate: %+v", got)
	}
	if len(rec.kinds()) != 1 {
		t.Fatalf("only the create should have emitted, got %v", rec.kinds())
	}
}

func TestDecideValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, master, "Validate")

	cases := []struct {
		name    string
		id      string
		outcome Status
		message string
		want    error
	}{
		{"empty message", p.ID, StatusApproved, "  ", ErrValidation},
		{"pending outcome", p.ID, StatusPending, "back", ErrValidation},
		{"bogus outcome", p.ID, Status("MAYBE"), "hmm", ErrValidation},
		{"unknown id", "01HZZZZZZZZZZZZZZZZZZZZZZZ", StatusApproved, "ok", ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.Decide(ctx, master, tc.id, tc.outcome, tc.message); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	rejected, err := svc.Decide(ctx, master, p.ID, Status("rejected"), "budget")
	if err != nil {
		t.Fatalf("lower-case outcome should be accepted: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("unexpected status %s", rejected.Status)
	}
}

func TestConcurrentDecideHasOneWinner(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, developer, "Race")

	const reviewers = 16
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, outcome := admin, StatusApproved
			if i%2 == 1 {
				sess, outcome = master, StatusRejected
			}
			<-start
			_, err := svc.Decide(ctx, sess, p.ID, outcome, fmt.Sprintf("reviewer %d", i))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidTransition):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != reviewers-1 {
		t.Fatalf("wins=%d conflicts=%d", wins.Load(), conflicts.Load())
	}
	got, _ := svc.Get(ctx, admin, p.ID)
	if !got.Status.Terminal() || got.Validate() != nil {
		t.Fatalf("unexpected final state: %+v", got)
	}
}

func TestVisibility(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	mine := mustCreate(t, svc, developer, "Mine")
	theirs := mustCreate(t, svc, developer2, "Theirs")
	mustCreate(t, svc, master, "Master's")

	own, err := svc.ListOwn(ctx, developer)
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 1 || own[0].ID != mine.ID {
		t.Fatalf("developer should only see own project: %+v", own)
	}
	if n, _ := svc.CountOwn(ctx, developer); n != 1 {
		t.Fatalf("CountOwn = %d", n)
	}
	if _, err := svc.Get(ctx, developer, theirs.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other developer's project must look absent, got %v", err)
	}
	if _, err := svc.Get(ctx, admin, theirs.ID); err != nil {
		t.Fatalf("admin should view any project: %v", err)
	}
	if _, err := svc.Get(ctx, master, mine.ID); err != nil {
		t.Fatalf("master should view any project: %v", err)
	}

	all, err := svc.ListAll(ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Title != "Master's" || all[2].Title != "Mine" {
		t.Fatalf("ListAll should be newest first: %v", titles(all))
	}
}

func TestListPendingExcludesDecided(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, developer, "A")
	b := mustCreate(t, svc, developer, "B")
	if _, err := svc.Decide(ctx, master, a.ID, StatusApproved, "fine"); err != nil {
		t.Fatal(err)
	}
	for _, reviewer := range []auth.Session{admin, master} {
		pending, err := svc.ListPending(ctx, reviewer)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].ID != b.ID {
			t.Fatalf("pending for %s = %v", reviewer.Role, titles(pending))
		}
	}
}

func TestSearch(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	chat := mustCreate(t, svc, developer, "Support Chatbot")
	f := fullFields("Code Review Helper")
	f.Department = "Quality"
	review, err := svc.Create(ctx, developer2, f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Decide(ctx, admin, review.ID, StatusRejected, "duplicate"); err != nil {
		t.Fatal(err)
	}

	everything, err := svc.Search(ctx, admin, Query{})
	if err != nil || len(everything) != 2 {
		t.Fatalf("empty query should return all: %v %v", titles(everything), err)
	}
	none, err := svc.Search(ctx, admin, Query{Keyword: "zzz-no-match"})
	if err != nil {
		t.Fatalf("no match must not error: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", none)
	}

	cases := []struct {
		q    Query
		want []string
	}{
		{Query{Keyword: "chatBOT"}, []string{chat.Title}},
		{Query{Keyword: "quality"}, []string{review.Title}},
		{Query{Keyword: "gpt"}, []string{review.Title, chat.Title}},
		{Query{Status: StatusRejected}, []string{review.Title}},
		{Query{Status: Status("pending")}, []string{chat.Title}},
		{Query{Keyword: "chatbot", Status: StatusRejected}, []string{}},
	}
	for _, tc := range cases {
		got, err := svc.Search(ctx, master, tc.q)
		if err != nil {
			t.Fatalf("Search(%+v): %v", tc.q, err)
		}
		if fmt.Sprint(titles(got)) != fmt.Sprint(tc.want) {
			t.Errorf("Search(%+v) = %v, want %v", tc.q, titles(got), tc.want)
		}
	}

	if _, err := svc.Search(ctx, admin, Query{Status: "ARCHIVED"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status filter: expected ErrValidation, got %v", err)
	}
}

func TestDraftSaveAndPromote(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := context.Background()

	d, err := svc.SaveDraft(ctx, developer, DraftInput{Fields: Fields{Title: "Draft 1"}})
	if err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if d.ID == "" || d.Title != "Draft 1" || d.Model != "" || d.Description != "" {
		t.Fatalf("unexpected draft: %+v", d)
	}

	updated, err := svc.SaveDraft(ctx, developer, DraftInput{ID: d.ID, Fields: Fields{Title: "Draft 1", Model: "claude"}})
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}
	if !updated.CreatedAt.Equal(d.CreatedAt) || updated.Model != "claude" {
		t.Fatalf("upsert should keep createdAt and apply fields: %+v", updated)
	}

	drafts, _ := svc.ListDrafts(ctx, developer)
	if len(drafts) != 1 {
		t.Fatalf("expected one draft, got %d", len(drafts))
	}

	p, err := svc.PromoteDraft(ctx, developer, d.ID, DraftInput{Fields: fullFields("Draft 1")})
	if err != nil {
		t.Fatalf("PromoteDraft: %v", err)
	}
	if p.Status != StatusPending || p.Title != "Draft 1" || p.Model != "gpt-4o" {
		t.Fatalf("unexpected project: %+v", p)
	}
	drafts, _ = svc.ListDrafts(ctx, developer)
	if len(drafts) != 0 {
		t.Fatalf("draft should be gone after promotion: %+v", drafts)
	}
	own, _ := svc.ListOwn(ctx, developer)
	if len(own) != 1 || own[0].ID != p.ID {
		t.Fatalf("promoted project should be listed: %v", titles(own))
	}

	want := []string{events.KindDraftSaved, events.KindDraftSaved, events.KindDraftPromoted}
	if fmt.Sprint(rec.kinds()) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", rec.kinds(), want)
	}
}

func TestPromoteUsesStoredFieldsAndValidates(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	partial, _ := svc.SaveDraft(ctx, master, DraftInput{Fields: Fields{Title: "Half done"}})
	if _, err := svc.PromoteDraft(ctx, master, partial.ID, DraftInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("incomplete draft must not promote, got %v", err)
	}
	if drafts, _ := svc.ListDrafts(ctx, master); len(drafts) != 1 {
		t.Fatal("failed promotion must keep the draft")
	}

	complete, _ := svc.SaveDraft(ctx, master, DraftInput{Fields: fullFields("Ready")})
	p, err := svc.PromoteDraft(ctx, master, complete.ID, DraftInput{})
	if err != nil {
		t.Fatalf("stored fields should be enough: %v", err)
	}
	if p.Title != "Ready" {
		t.Fatalf("unexpected title %q", p.Title)
	}
}

func TestDraftsRefuseStatusAndStrangers(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.SaveDraft(ctx, developer, DraftInput{Fields: Fields{Title: "x"}, Status: StatusApproved}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("status on draft: expected ErrInvalidTransition, got %v", err)
	}
	d, _ := svc.SaveDraft(ctx, developer, DraftInput{Fields: Fields{Title: "private"}})

	if _, err := svc.PromoteDraft(ctx, developer, d.ID, DraftInput{Fields: fullFields("x"), Status: StatusPending}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("status on promotion: expected ErrInvalidTransition, got %v", err)
	}
	if err := svc.DeleteDraft(ctx, developer2, d.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger delete: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.SaveDraft(ctx, developer2, DraftInput{ID: d.ID, Fields: Fields{Title: "hijack"}}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger overwrite: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.PromoteDraft(ctx, developer2, d.ID, DraftInput{Fields: fullFields("x")}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger promote: expected ErrUnauthorized, got %v", err)
	}
	if others, _ := svc.ListDrafts(ctx, developer2); len(others) != 0 {
		t.Fatalf("drafts must be private: %+v", others)
	}
	if _, err := svc.SaveDraft(ctx, developer, DraftInput{ID: "not-an-id"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed id: expected ErrValidation, got %v", err)
	}

	if err := svc.DeleteDraft(ctx, developer, d.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if err := svc.DeleteDraft(ctx, developer, d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestProjectValidateInvariant(t *testing.T) {
	cases := []struct {
		p  Project
		ok bool
	}{
		{Project{Status: StatusPending}, true},
		{Project{Status: StatusPending, StatusMessage: "early"}, false},
		{Project{Status: StatusApproved, StatusMessage: "ok"}, true},
		{Project{Status: StatusRejected}, false},
		{Project{Status: "DRAFT"}, false},
	}
	for _, tc := range cases {
		if err := tc.p.Validate(); (err == nil) != tc.ok {
			t.Errorf("Validate(%+v) = %v", tc.p, err)
		}
	}
}

func titles(ps []Project) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Title)
	}
	return out
}

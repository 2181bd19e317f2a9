package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"genaiportal.org/internal/project"
)

var _ project.Store = (*Store)(nil)

const projectColumns = `id, owner_id, title, model, registrant, department, project_manager, developers,
	description, usage_plan, expected_effects, duration, status, status_message, submitted_at, decided_at`

const draftColumns = `id, owner_id, title, model, registrant, department, project_manager, developers,
	description, usage_plan, expected_effects, duration, created_at, updated_at`

// textColumns are searched by keyword.
var textColumns = []string{
	"title", "model", "registrant", "department", "project_manager", "developers",
	"description", "usage_plan", "expected_effects", "duration",
}

func fieldArgs(f project.Fields) []any {
	return []any{
		f.Title, f.Model, f.Registrant, f.Department, f.ProjectManager, f.Developers,
		f.Description, f.UsagePlan, f.ExpectedEffects, f.Duration,
	}
}

func fieldDest(f *project.Fields) []any {
	return []any{
		&f.Title, &f.Model, &f.Registrant, &f.Department, &f.ProjectManager, &f.Developers,
		&f.Description, &f.UsagePlan, &f.ExpectedEffects, &f.Duration,
	}
}

func scanProject(row scanner) (project.Project, error) {
	var (
		p       project.Project
		status  string
		message sql.NullString
		decided sql.NullTime
	)
	dest := append([]any{&p.ID, &p.OwnerID}, fieldDest(&p.Fields)...)
	dest = append(dest, &status, &message, &p.SubmittedAt, &decided)
	if err := row.Scan(dest...); err != nil {
		return project.Project{}, err
	}
	p.Status = project.Status(status)
	p.StatusMessage = message.String
	if decided.Valid {
		at := decided.Time.UTC()
		p.DecidedAt = &at
	}
	p.SubmittedAt = p.SubmittedAt.UTC()
	return p, nil
}

func scanDraft(row scanner) (project.Draft, error) {
	var d project.Draft
	dest := append([]any{&d.ID, &d.OwnerID}, fieldDest(&d.Fields)...)
	dest = append(dest, &d.CreatedAt, &d.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return project.Draft{}, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertProject(ctx context.Context, q execQuerier, p project.Project) (project.Project, error) {
	args := append([]any{p.ID, p.OwnerID}, fieldArgs(p.Fields)...)
	args = append(args, string(p.Status), nullIfEmpty(p.StatusMessage), p.SubmittedAt)
	row := q.QueryRowContext(ctx, `
		insert into projects (id, owner_id, title, model, registrant, department, project_manager, developers,
			description, usage_plan, expected_effects, duration, status, status_message, submitted_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		returning `+projectColumns, args...)
	created, err := scanProject(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return project.Project{}, fmt.Errorf("%w: duplicate project id %s", project.ErrValidation, p.ID)
			case pgErrForeignKeyViolation:
				return project.Project{}, fmt.Errorf("%w: unknown owner %s", project.ErrValidation, p.OwnerID)
			}
		}
		return project.Project{}, err
	}
	return created, nil
}

func (s *Store) CreateProject(ctx context.Context, p project.Project) (project.Project, error) {
	if s.db == nil {
		return project.Project{}, errNoDB
	}
	return insertProject(ctx, s.db, p)
}

func (s *Store) GetProject(ctx context.Context, id string) (project.Project, error) {
	if s.db == nil {
		return project.Project{}, errNoDB
	}
	p, err := scanProject(s.db.QueryRowContext(ctx, `select `+projectColumns+` from projects where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return project.Project{}, project.ErrNotFound
	}
	if err != nil {
		return project.Project{}, err
	}
	return p, nil
}

// DecideProject relies on the status predicate of a single update: a concurrent
// decision that commits first leaves zero matching rows for the loser.
func (s *Store) DecideProject(ctx context.Context, id string, outcome project.Status, message string, at time.Time) (project.Project, error) {
	if s.db == nil {
		return project.Project{}, errNoDB
	}
	p, err := scanProject(s.db.QueryRowContext(ctx, `
		update projects
		set status = $2, status_message = $3, decided_at = $4
		where id = $1 and status = 'PENDING'
		returning `+projectColumns, id, string(outcome), message, at))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return project.Project{}, err
	}
	var current string
	err = s.db.QueryRowContext(ctx, `select status from projects where id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return project.Project{}, project.ErrNotFound
	}
	if err != nil {
		return project.Project{}, err
	}
	return project.Project{}, project.ErrInvalidTransition
}

func (s *Store) ListProjects(ctx context.Context, f project.Filter) ([]project.Project, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		args = append(args, likePattern(kw))
		ors := make([]string, 0, len(textColumns))
		for _, col := range textColumns {
			ors = append(ors, fmt.Sprintf("%s ilike $%d", col, len(args)))
		}
		where = append(where, "("+strings.Join(ors, " or ")+")")
	}
	query := `select ` + projectColumns + ` from projects`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by submitted_at desc, id desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]project.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) CountProjects(ctx context.Context, ownerID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from projects where $1 = '' or owner_id = $1
	`, ownerID).Scan(&n)
	return n, err
}

// SaveDraft upserts the draft. The conflict branch only fires for the same owner, so a
// foreign id yields no row.
func (s *Store) SaveDraft(ctx context.Context, d project.Draft) (project.Draft, error) {
	if s.db == nil {
		return project.Draft{}, errNoDB
	}
	args := append([]any{d.ID, d.OwnerID}, fieldArgs(d.Fields)...)
	args = append(args, d.CreatedAt, d.UpdatedAt)
	saved, err := scanDraft(s.db.QueryRowContext(ctx, `
		insert into drafts (id, owner_id, title, model, registrant, department, project_manager, developers,
			description, usage_plan, expected_effects, duration, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		on conflict (id) do update set
			title = excluded.title,
			model = excluded.model,
			registrant = excluded.registrant,
			department = excluded.department,
			project_manager = excluded.project_manager,
			developers = excluded.developers,
			description = excluded.description,
			usage_plan = excluded.usage_plan,
			expected_effects = excluded.expected_effects,
			duration = excluded.duration,
			updated_at = excluded.updated_at
		where drafts.owner_id = excluded.owner_id
		returning `+draftColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return project.Draft{}, fmt.Errorf("%w: draft %s belongs to another user", project.ErrUnauthorized, d.ID)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return project.Draft{}, fmt.Errorf("%w: unknown owner %s", project.ErrValidation, d.OwnerID)
		}
		return project.Draft{}, err
	}
	return saved, nil
}

func (s *Store) GetDraft(ctx context.Context, id string) (project.Draft, error) {
	if s.db == nil {
		return project.Draft{}, errNoDB
	}
	d, err := scanDraft(s.db.QueryRowContext(ctx, `select `+draftColumns+` from drafts where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return project.Draft{}, project.ErrNotFound
	}
	if err != nil {
		return project.Draft{}, err
	}
	return d, nil
}

func (s *Store) ListDrafts(ctx context.Context, ownerID string) ([]project.Draft, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+draftColumns+`
		from drafts
		where owner_id = $1
		order by created_at desc, id desc
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]project.Draft, 0)
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) DeleteDraft(ctx context.Context, id, ownerID string) error {
	if s.db == nil {
		return errNoDB
	}
	return deleteOwnedDraft(ctx, s.db, id, ownerID)
}

func (s *Store) PromoteDraft(ctx context.Context, draftID, ownerID string, p project.Project) (project.Project, error) {
	if s.db == nil {
		return project.Project{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return project.Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteOwnedDraft(ctx, tx, draftID, ownerID); err != nil {
		return project.Project{}, err
	}
	created, err := insertProject(ctx, tx, p)
	if err != nil {
		return project.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return project.Project{}, err
	}
	return created, nil
}

type execer interface {
	execQuerier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteOwnedDraft(ctx context.Context, db execer, id, ownerID string) error {
	res, err := db.ExecContext(ctx, `delete from drafts where id = $1 and owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}
	var owner string
	err = db.QueryRowContext(ctx, `select owner_id from drafts where id = $1`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return project.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: draft %s belongs to another user", project.ErrUnauthorized, id)
}

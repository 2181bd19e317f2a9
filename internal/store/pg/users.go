package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"genaiportal.org/internal/auth"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, email, name, role, password_hash, created_at`

func scanUser(row scanner) (auth.User, error) {
	var (
		u    auth.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) Create(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, role, password_hash, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.Name, string(u.Role), u.PasswordHash, u.CreatedAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrAlreadyExists
		}
		return auth.User{}, err
	}
	return created, nil
}

func (s *Store) Find(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where email = $1
	`, strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

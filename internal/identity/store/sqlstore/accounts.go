package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
)

const accountColumns = `id, email, password_hash, role, first_name, last_name, age, gender, created_at, updated_at, deleted_at`

type accountsRepo struct {
	q queries
}

func (r *accountsRepo) Create(ctx context.Context, a domain.Account) error {
	_, err := r.q.exec(ctx, `
INSERT INTO accounts (id, email, password_hash, role, first_name, last_name, age, gender, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.PasswordHash, string(a.Role), a.FirstName, a.LastName, mapIntNull(a.Age), a.Gender, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if r.q.d.uniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *accountsRepo) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.q.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	row := r.q.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ? AND deleted_at IS NULL`, email)
	return scanAccount(row)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		hash, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *accountsRepo) UpdateRole(ctx context.Context, id string, role domain.Role, at time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE accounts SET role = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		string(role), at.UTC(), id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *accountsRepo) UpdateProfile(ctx context.Context, id string, p domain.Profile, at time.Time) error {
	res, err := r.q.exec(ctx, `
UPDATE accounts SET first_name = ?, last_name = ?, age = ?, gender = ?, updated_at = ?
WHERE id = ? AND deleted_at IS NULL`,
		p.FirstName, p.LastName, mapIntNull(p.Age), p.Gender, at.UTC(), id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

func (r *accountsRepo) List(ctx context.Context, limit, offset int) ([]domain.Account, error) {
	rows, err := r.q.query(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE deleted_at IS NULL
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`, limit, max(0, offset))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *accountsRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.exec(ctx,
		`UPDATE accounts SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC(), at.UTC(), id)
	if err != nil {
		return err
	}
	return requireOne(res, store.ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a       domain.Account
		role    string
		age     sql.NullInt64
		deleted sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &role, &a.FirstName, &a.LastName, &age, &a.Gender, &a.CreatedAt, &a.UpdatedAt, &deleted)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.Role = domain.Role(role)
	if age.Valid {
		v := int(age.Int64)
		a.Age = &v
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	a.DeletedAt = mapNullTimePtr(deleted)
	return a, nil
}

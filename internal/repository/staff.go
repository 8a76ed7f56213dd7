package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

const staffColumns = ` id, username, role, key_id, secret_hash, enabled, created, last_seen, chat_id, notes `

// StaffRepository persists API consumers (handler services, admin tooling).
type StaffRepository struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewStaffRepository(db *sqlx.DB, dialect Dialect) *StaffRepository {
	return &StaffRepository{db: db, dialect: dialect}
}

// FindByKeyID returns (nil, nil) for an unknown key id.
func (r *StaffRepository) FindByKeyID(ctx context.Context, keyID string) (*domain.StaffUser, error) {
	query := r.db.Rebind(`SELECT ` + staffColumns + ` FROM staff_user WHERE key_id = ? AND enabled = ?`)
	var u domain.StaffUser
	if err := r.db.GetContext(ctx, &u, query, keyID, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *StaffRepository) Save(ctx context.Context, u *domain.StaffUser) (int64, error) {
	base := `
		INSERT INTO staff_user (username, role, key_id, secret_hash, enabled, created, last_seen, chat_id, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var lastSeen interface{}
	if u.LastSeen.Valid {
		lastSeen = r.dialect.bindTime(u.LastSeen.Time)
	}
	args := []interface{}{
		u.Username, u.Role, u.KeyID, u.SecretHash, u.Enabled,
		r.dialect.bindTime(u.Created), lastSeen, u.ChatID, u.Notes,
	}
	if r.dialect.supportsReturning() {
		query := r.db.Rebind(base + " RETURNING id")
		if err := r.db.QueryRowContext(ctx, query, args...).Scan(&u.ID); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(base), args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

func (r *StaffRepository) TouchLastSeen(ctx context.Context, id int64, ts time.Time) error {
	query := r.db.Rebind(`UPDATE staff_user SET last_seen = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, query, r.dialect.bindTime(ts), id)
	return err
}

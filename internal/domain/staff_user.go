package domain

import (
	"database/sql"
	"time"
)

// StaffUser is an API consumer (handler service, admin tool). The API secret
// is stored bcrypt-hashed; KeyID is the public half used for lookup.
type StaffUser struct {
	ID         int64          `db:"id"`
	Username   string         `db:"username"`
	Role       Role           `db:"role"`
	KeyID      string         `db:"key_id"`
	SecretHash string         `db:"secret_hash"`
	Enabled    bool           `db:"enabled"`
	Created    time.Time      `db:"created"`
	LastSeen   sql.NullTime   `db:"last_seen"`
	ChatID     sql.NullInt64  `db:"chat_id"`
	Notes      sql.NullString `db:"notes"`
}

package domain

import (
	"database/sql"
	"time"
)

// StateTransition is one immutable history record for a request. Records are
// created once and never edited; admin rollbacks append a new compensating
// record instead of rewriting history.
type StateTransition struct {
	ID             int64          `db:"id"`
	RequestID      string         `db:"request_id"`
	FromRole       sql.NullString `db:"from_role"` // null for the synthetic created record
	ToRole         Role           `db:"to_role"`
	Action         Action         `db:"action"`
	ActorID        string         `db:"actor_id"`
	TransitionData StateData      `db:"transition_data"`
	Comments       string         `db:"comments"`
	Created        time.Time      `db:"created"`
}

// FromRoleOrEmpty returns the from role, or "" for the created record.
func (t *StateTransition) FromRoleOrEmpty() Role {
	if !t.FromRole.Valid {
		return ""
	}
	return Role(t.FromRole.String)
}

package domain

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StateData is the open-ended working data carried by a request. It is only
// ever merged into additively: a later transition layers new keys on top and
// never drops what an earlier role wrote.
type StateData map[string]string

// Merge copies all keys from other into d, overwriting on key collision but
// leaving unrelated keys untouched.
func (d StateData) Merge(other StateData) StateData {
	if d == nil {
		d = make(StateData, len(other))
	}
	for k, v := range other {
		d[k] = v
	}
	return d
}

func (d StateData) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *StateData) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = StateData{}
		return nil
	case []byte:
		if len(v) == 0 {
			*d = StateData{}
			return nil
		}
		return json.Unmarshal(v, d)
	case string:
		if v == "" {
			*d = StateData{}
			return nil
		}
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("cannot scan %T into StateData", src)
	}
}

// EquipmentItem is one reserved or consumed inventory line.
type EquipmentItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type EquipmentList []EquipmentItem

func (l EquipmentList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *EquipmentList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = EquipmentList{}
		return nil
	case []byte:
		if len(v) == 0 {
			*l = EquipmentList{}
			return nil
		}
		return json.Unmarshal(v, l)
	case string:
		if v == "" {
			*l = EquipmentList{}
			return nil
		}
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into EquipmentList", src)
	}
}

// ServiceRequest is the mutable aggregate root. It is a projection of the
// latest StateTransition: every change to RoleCurrent or Status is paired
// with exactly one new history record.
type ServiceRequest struct {
	ID           string       `db:"id"`
	WorkflowType WorkflowType `db:"workflow_type"`
	ClientID     int64        `db:"client_id"`
	RoleCurrent  Role         `db:"role_current"`
	Status       Status       `db:"current_status"`
	Priority     Priority     `db:"priority"`
	Description  string       `db:"description"`
	StateData    StateData    `db:"state_data"`

	EquipmentUsed    EquipmentList `db:"equipment_used"`
	InventoryUpdated bool          `db:"inventory_updated"`

	// Provenance: who created the request and through which channel.
	CreatedByStaff   bool           `db:"created_by_staff"`
	StaffCreatorID   sql.NullInt64  `db:"staff_creator_id"`
	StaffCreatorRole sql.NullString `db:"staff_creator_role"`
	CreationSource   string         `db:"creation_source"`

	CompletionRating sql.NullInt64  `db:"completion_rating"`
	FeedbackComments sql.NullString `db:"feedback_comments"`

	Created  time.Time `db:"created"`
	Modified time.Time `db:"modified"`
}

// Snapshot returns a deep copy used as the rollback image for transactional
// state changes.
func (r *ServiceRequest) Snapshot() *ServiceRequest {
	cp := *r
	cp.StateData = make(StateData, len(r.StateData))
	for k, v := range r.StateData {
		cp.StateData[k] = v
	}
	cp.EquipmentUsed = append(EquipmentList(nil), r.EquipmentUsed...)
	return &cp
}

const (
	CreationSourceClient = "client_self"
	CreationSourceStaff  = "staff_on_behalf"
)

package courier

import "time"

// Entity carries the creation and modification timestamps shared by all
// persisted courier records. Embed it in entity structs.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch updates the modification timestamp.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

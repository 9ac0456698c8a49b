// Package memory holds durable user facts: the record model, the deterministic
// extraction pipeline that mines facts from completed turn pairs, and the
// summary used to seed a new thread's system turn.
package memory

import "time"

// Category classifies what kind of fact a record holds.
type Category string

const (
	CategoryPersonal   Category = "personal"
	CategoryPreference Category = "preference"
	CategoryContext    Category = "context"
	CategoryOther      Category = "other"
)

// Record is one remembered fact. Records are owned by the user and live
// independently of any single thread: created by explicit user action or by
// extraction, read back to seed a new thread's system turn.
type Record struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
}

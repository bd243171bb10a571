package area

import "time"

// Area is one named location within the home.
type Area struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Slug is derived from the name on creation and unique.
	Slug string `json:"slug"`

	// Floor is an optional grouping label ("ground", "first").
	Floor *string `json:"floor,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

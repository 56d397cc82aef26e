package store

import "github.com/google/uuid"

// GenNewID returns a new random UUID as a string, matching the id format
// every table in the schema uses for its primary key.
func GenNewID() string {
	return uuid.NewString()
}

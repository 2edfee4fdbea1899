package models

import "github.com/google/uuid"

// ensureID fills a zero-valued primary key so inserts work on both Postgres
// and the sqlite databases used in tests.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

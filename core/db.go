package core

import (
	"context"
	"io"
)

type (
	// Store is a handle over an open storage backend.
	Store interface {
		io.Closer
		Ping(ctx context.Context) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// CleanOrderings drops orderings on fields that are not in allowed.
// allowed maps API field names to storage field names.
func CleanOrderings(orderings []DBOrdering, allowed map[string]string) []DBOrdering {
	if len(orderings) == 0 {
		return nil
	}
	cleaned := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if field, ok := allowed[ord.Field]; ok {
			cleaned = append(cleaned, DBOrdering{Field: field, Ascending: ord.Ascending})
		}
	}
	return cleaned
}

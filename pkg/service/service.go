// Package service holds one service per record kind. Each composes the
// conditional write executor and a read façade into domain operations.
//
// Writes return an applied flag. False means the record was not in the state
// the operation requires (already created, already deleted or expired); it is
// never an error. Reads go to the derived store and may lag behind writes.
package service

import (
	"time"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/logger"
	"github.com/surrealdb/surreallms/pkg/plan"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

// Deps are the handles shared by every service. They are opened once by the
// process and injected here.
type Deps struct {
	Exec    *write.Executor
	Planner *plan.Planner
	Log     logger.Logger
	// Now is the clock used for created/updated timestamps.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Planner == nil {
		d.Planner = plan.New()
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Now().UTC()
}

// required fails with a validation error naming the first empty value.
func required(component, method string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return lmserrors.Invalid(component, method, "%s is required", pairs[i])
		}
	}
	return nil
}

// first returns the first hit or a NotFound error.
func first[T any](hits search.Hits[T], component, method, what string) (*T, error) {
	if len(hits.Items) == 0 {
		return nil, lmserrors.NotFound(component, method, what)
	}
	return &hits.Items[0], nil
}

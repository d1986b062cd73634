// Package plan turns a sparse update payload for a map column into an
// assign/remove partition and renders it as one atomic two-statement batch.
//
//	p, err := plan.New().Plan(nil, map[string]any{"bio": "hi", "avatar": nil})
//	// p.Assign == {"bio": "hi"}, p.Remove == ["avatar"]
//	intents := p.Render(key, "info", 0)
//	applied, err := exec.Batch(ctx, intents...)
package plan

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/write"
)

const component = "Planner"

// Field names with a fixed meaning in every map column.
const (
	// ImageField is derived server-side from the email address.
	ImageField = "image"
	// TouchField is rewritten by every plan.
	TouchField = "_update_"
	// DeleteField is reserved for bookkeeping.
	DeleteField = "_delete_"
)

var reserved = map[string]struct{}{
	ImageField:  {},
	TouchField:  {},
	DeleteField: {},
}

// IsReserved reports whether key can never be written by a client.
func IsReserved(key string) bool {
	_, ok := reserved[key]
	return ok
}

var errNested = errors.New("nested values are not supported")

type deleteMarker struct{}

// Delete marks a payload entry for removal regardless of its type.
var Delete = deleteMarker{}

// Entry is one assigned map entry.
type Entry struct {
	Key   string
	Value string
}

// Plan is the partition of one payload. Every non-reserved payload key is in
// exactly one of Assign and Remove.
type Plan struct {
	Assign map[string]string
	Remove []string // sorted
	Touch  Entry
}

// Planner builds plans. The zero value is not usable; call New.
type Planner struct {
	touch func() string
}

type Option func(*Planner)

// WithTouch replaces the generator of touch values.
func WithTouch(fn func() string) Option {
	return func(p *Planner) { p.touch = fn }
}

func New(opts ...Option) *Planner {
	p := &Planner{touch: newTouch}
	for _, o := range opts {
		o(p)
	}
	return p
}

func newTouch() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Plan partitions payload. When known is non-nil, keys outside it are
// rejected as unsupported. Reserved keys are dropped.
func (p *Planner) Plan(known []string, payload map[string]any) (Plan, error) {
	var allowed map[string]struct{}
	if known != nil {
		allowed = make(map[string]struct{}, len(known))
		for _, k := range known {
			allowed[k] = struct{}{}
		}
	}

	out := Plan{
		Assign: make(map[string]string, len(payload)),
		Touch:  Entry{Key: TouchField, Value: p.touch()},
	}
	for k, v := range payload {
		if k == "" {
			return Plan{}, lmserrors.Invalid(component, "Plan", "empty field name")
		}
		if IsReserved(k) {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[k]; !ok {
				return Plan{}, lmserrors.Invalid(component, "Plan", "unsupported field %q", k)
			}
		}
		if removes(v) {
			out.Remove = append(out.Remove, k)
			continue
		}
		s, err := stringify(v)
		if err != nil {
			return Plan{}, lmserrors.Invalid(component, "Plan", "field %q: %v", k, err)
		}
		if s == "" {
			out.Remove = append(out.Remove, k)
			continue
		}
		out.Assign[k] = s
	}
	sort.Strings(out.Remove)
	return out, nil
}

func removes(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case deleteMarker:
		return true
	case string:
		return t == ""
	case *string:
		return t == nil || *t == ""
	}
	return false
}

func stringify(v any) (string, error) {
	switch v.(type) {
	case map[string]any, map[string]string, []any, []string:
		return "", errNested
	}
	return cast.ToStringE(v)
}

// Render produces the assign statement (Assign plus Touch, carrying ttl)
// followed by the remove statement. Both require the record to exist and
// must be issued together as one batch.
func (p Plan) Render(key write.Key, column string, ttl time.Duration) []write.Intent {
	assign := make(map[string]string, len(p.Assign)+1)
	for k, v := range p.Assign {
		assign[k] = v
	}
	if p.Touch.Key != "" {
		assign[p.Touch.Key] = p.Touch.Value
	}
	return []write.Intent{
		{
			Key:       key,
			MapColumn: column,
			MapAssign: assign,
			Predicate: write.MustExist,
			TTL:       ttl,
		},
		{
			Key:       key,
			MapColumn: column,
			MapRemove: append([]string(nil), p.Remove...),
			Predicate: write.MustExist,
		},
	}
}

// Package write is the conditional write layer over the authoritative store.
//
// Every mutation is an [Intent]: a key, the columns to set, an optional
// operation on the table's map column, an existence [Predicate] and an
// optional TTL. The [Executor] validates intents and hands them to a [Store],
// which applies them atomically and reports whether the predicate held.
//
// A predicate that does not hold is not an error. It is reported as
// applied=false and callers decide what a conflict means for them.
package write

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Predicate is the existence condition a write is applied under.
type Predicate int

const (
	// None applies the write unconditionally (upsert).
	None Predicate = iota
	// MustNotExist applies only if no live record exists at the key.
	MustNotExist
	// MustExist applies only if a live record exists at the key.
	MustExist
)

func (p Predicate) String() string {
	switch p {
	case None:
		return "none"
	case MustNotExist:
		return "must_not_exist"
	case MustExist:
		return "must_exist"
	default:
		return fmt.Sprintf("predicate(%d)", int(p))
	}
}

// Holds reports whether p is satisfied given whether a live record exists.
func (p Predicate) Holds(exists bool) bool {
	switch p {
	case MustNotExist:
		return !exists
	case MustExist:
		return exists
	default:
		return true
	}
}

// Part is one key column and its value.
type Part struct {
	Column string
	Value  string
}

// Key identifies one record. Parts are ordered partition-first.
type Key struct {
	Table string
	Parts []Part
}

// NewKey builds a key from alternating column/value pairs.
//
//	write.NewKey("lessons", "teacher_id", t, "course_id", c, "lesson_id", l)
func NewKey(table string, pairs ...string) Key {
	k := Key{Table: table}
	for i := 0; i+1 < len(pairs); i += 2 {
		k.Parts = append(k.Parts, Part{Column: pairs[i], Value: pairs[i+1]})
	}
	return k
}

// Values returns the key values in order.
func (k Key) Values() []string {
	out := make([]string, len(k.Parts))
	for i, p := range k.Parts {
		out[i] = p.Value
	}
	return out
}

// Equal reports whether two keys name the same record.
func (k Key) Equal(o Key) bool {
	if k.Table != o.Table || len(k.Parts) != len(o.Parts) {
		return false
	}
	for i := range k.Parts {
		if k.Parts[i] != o.Parts[i] {
			return false
		}
	}
	return true
}

// DocID is the record id used in the derived store: the value itself for
// single-column keys, and the JSON array of values for composite keys.
func (k Key) DocID() string {
	if len(k.Parts) == 1 {
		return k.Parts[0].Value
	}
	b, err := json.Marshal(k.Values())
	if err != nil {
		// []string always marshals
		panic(err)
	}
	return string(b)
}

func (k Key) String() string {
	return k.Table + ":" + strings.Join(k.Values(), "/")
}

// Intent is one conditional statement against a single record.
type Intent struct {
	Key Key

	// Set holds scalar columns to write.
	Set map[string]any

	// MapColumn names the table's map column when MapAssign or MapRemove is
	// used. Entries in MapAssign are merged into the stored map and entries
	// in MapRemove are deleted from it.
	MapColumn string
	MapAssign map[string]string
	MapRemove []string

	// Delete removes the whole record. It cannot be combined with Set or
	// map operations.
	Delete bool

	Predicate Predicate

	// TTL is the lifetime of every column and map entry the statement writes,
	// counted from the time of the write. Cells it does not touch keep their
	// own expiry. Zero writes permanent cells.
	TTL time.Duration
}

// Record is a live record read back from the authoritative store.
type Record struct {
	Key     Key
	Columns map[string]any
	Map     map[string]string
	// ExpiresAt is when the whole record stops being live, zero when some
	// part of it is permanent.
	ExpiresAt time.Time
	// ColumnExpiry and MapExpiry hold the expiry of each live column and map
	// entry written with a TTL.
	ColumnExpiry map[string]time.Time
	MapExpiry    map[string]time.Time
}

// Table declares the layout of one record kind.
type Table struct {
	Name string
	// Key lists the key columns, partition first.
	Key []string
	// Map names the map-valued column, if the table has one.
	Map string
	// Columns lists the scalar columns a write may set. Empty means any.
	Columns []string
}

// Store is an authoritative store backend.
//
// Apply evaluates the predicate of every intent against the state before the
// batch, then applies all of them or none. All intents share one key.
type Store interface {
	Apply(ctx context.Context, intents []Intent) (bool, error)
	Lookup(ctx context.Context, key Key) (Record, bool, error)
	Close() error
}

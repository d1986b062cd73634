package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// recordIDTag is the CBOR tag SurrealDB uses for record ids.
const recordIDTag = 8

// NewID returns a random identifier for users, courses and topics.
func NewID() string {
	return uuid.NewString()
}

// NewTimeID returns a time-ordered identifier for lessons, exams and
// comments.
func NewTimeID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DocID is the id of a derived document. For single-column keys ID is the
// key value; for composite keys it is the JSON array of the key values.
//
// In Postgres it is stored as text. In SurrealDB it is a record id.
type DocID struct {
	Table string
	ID    string
}

func (d DocID) String() string { return d.ID }
func (d DocID) IsZero() bool   { return d.ID == "" }

// Parts returns the key values the id was built from.
func (d DocID) Parts() []string {
	if !strings.HasPrefix(d.ID, "[") {
		return []string{d.ID}
	}
	var parts []string
	if err := json.Unmarshal([]byte(d.ID), &parts); err != nil {
		return []string{d.ID}
	}
	return parts
}

// Leaf returns the last key value.
func (d DocID) Leaf() string {
	parts := d.Parts()
	return parts[len(parts)-1]
}

func (d DocID) RecordID() surrealmodels.RecordID {
	return surrealmodels.NewRecordID(d.Table, d.ID)
}

func (d DocID) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ID)
}

func (d *DocID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.ID)
}

func (d DocID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{
		Number:  recordIDTag,
		Content: []any{d.Table, d.ID},
	})
}

func (d *DocID) UnmarshalCBOR(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty CBOR data")
	}
	// Plain strings are accepted for documents projected without record ids.
	if data[0]>>5 == 3 {
		return cbor.Unmarshal(data, &d.ID)
	}

	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR tag: %w", err)
	}
	if tag.Number != recordIDTag {
		return fmt.Errorf("expected RecordID tag (%d), got %d", recordIDTag, tag.Number)
	}
	arr, ok := tag.Content.([]any)
	if !ok || len(arr) != 2 {
		return fmt.Errorf("invalid RecordID format: expected [table, id] array")
	}
	table, ok := arr[0].(string)
	if !ok {
		return fmt.Errorf("invalid RecordID format: table name must be string")
	}
	d.Table = table
	switch v := arr[1].(type) {
	case string:
		d.ID = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("invalid RecordID id %T: %w", v, err)
		}
		d.ID = string(b)
	}
	return nil
}

func (d DocID) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.ID, nil
}

func (d *DocID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		d.ID = ""
	case string:
		d.ID = v
	case []byte:
		d.ID = string(v)
	default:
		return fmt.Errorf("cannot scan type %T into DocID", value)
	}
	return nil
}

func (DocID) GormDataType() string { return "text" }

// Time is a timestamp that maps to timestamptz in Postgres and to a datetime
// in SurrealDB.
type Time struct {
	time.Time
}

func Now() Time { return Time{time.Now().UTC()} }

func (t Time) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.Time, nil
}

func (t *Time) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v
	default:
		return fmt.Errorf("cannot scan type %T into Time", value)
	}
	return nil
}

func (Time) GormDataType() string { return "time" }

func (t Time) MarshalCBOR() ([]byte, error) {
	d := surrealmodels.CustomDateTime{Time: t.Time}
	return d.MarshalCBOR()
}

func (t *Time) UnmarshalCBOR(data []byte) error {
	var d surrealmodels.CustomDateTime
	if err := d.UnmarshalCBOR(data); err != nil {
		return err
	}
	t.Time = d.Time
	return nil
}

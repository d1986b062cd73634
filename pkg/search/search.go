// Package search is the read side: point lookups and paginated searches
// against the derived store.
//
// The derived store is populated by replication outside this module and may
// lag behind the authoritative store. Nothing here is cached.
package search

import (
	"context"
	"math"
	"slices"
	"time"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/logger"
	"github.com/surrealdb/surreallms/pkg/metric"
	"github.com/surrealdb/surreallms/pkg/write"
)

// DefaultPageSize is used when a caller passes no size.
const DefaultPageSize = 10

// Op is the comparison a Clause performs.
type Op int

const (
	// Equal matches a field equal to the value.
	Equal Op = iota
	// Match is a full-text keyword match.
	Match
	// HasKey matches documents whose map field contains the key.
	HasKey
	// In matches a field equal to any of the values. On the id field the
	// values are document ids.
	In
)

func (o Op) String() string {
	switch o {
	case Equal:
		return "equal"
	case Match:
		return "match"
	case HasKey:
		return "has_key"
	case In:
		return "in"
	default:
		return "unknown"
	}
}

type Clause struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Clause { return Clause{Field: field, Op: Equal, Value: value} }

func Matches(field, keyword string) Clause { return Clause{Field: field, Op: Match, Value: keyword} }

func Has(field, key string) Clause { return Clause{Field: field, Op: HasKey, Value: key} }

func AnyOf(field string, values ...string) Clause {
	return Clause{Field: field, Op: In, Value: values}
}

// Projection selects the returned fields. Include wins; names in Exclude are
// removed from it. With only Exclude, those fields are omitted from the full
// document.
type Projection struct {
	Include []string
	Exclude []string
}

// Fields resolves the projection into the fields to select and the fields to
// omit. At most one of the two is non-empty. An include list emptied by
// Exclude selects only the id.
func (p Projection) Fields() (fields, omit []string) {
	if len(p.Include) == 0 {
		return nil, p.Exclude
	}
	for _, f := range p.Include {
		if !slices.Contains(p.Exclude, f) && !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		fields = []string{"id"}
	}
	return fields, nil
}

// Query is a conjunction of Must clauses and, when Should is non-empty, a
// disjunction of Should clauses.
type Query struct {
	Must       []Clause
	Should     []Clause
	OrderBy    string
	Desc       bool
	Projection Projection
}

// Page is a zero-indexed window.
type Page struct {
	Offset int
	Limit  int
}

// Paginate converts a 1-indexed page into a window. Pages below 1 are clamped
// to 1 and sizes below 1 fall back to DefaultPageSize. Pages so large that
// Offset+Limit would overflow are clamped to the last representable window.
func Paginate(page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if last := (math.MaxInt - size) / size; page-1 > last {
		page = last + 1
	}
	return Page{Offset: size * (page - 1), Limit: size}
}

// Hits is one page of results. Total is the number of matching documents in
// the store, not the length of Items.
type Hits[T any] struct {
	Items []T
	Total int
}

// Backend runs queries against the derived store.
type Backend[T any] interface {
	// Get returns the document with the given id, or false when there is none.
	Get(ctx context.Context, table, id string, proj Projection) (*T, bool, error)
	// Find returns one window of matching documents and the total match count.
	Find(ctx context.Context, table string, q Query, page Page) ([]T, int, error)
}

// Facade reads documents of one table.
type Facade[T any] struct {
	backend Backend[T]
	table   string
	log     logger.Logger
	metrics *metric.Metrics
}

type Option func(*options)

type options struct {
	log     logger.Logger
	metrics *metric.Metrics
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func NewFacade[T any](backend Backend[T], table string, opts ...Option) *Facade[T] {
	o := options{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Facade[T]{backend: backend, table: table, log: o.log, metrics: o.metrics}
}

func (f *Facade[T]) Table() string { return f.table }

// GetByKey returns the document for key. It fails with a NotFound error when
// the derived store has no such document.
func (f *Facade[T]) GetByKey(ctx context.Context, key write.Key, proj Projection) (*T, error) {
	if key.Table != f.table {
		return nil, lmserrors.Invalid("Facade", "GetByKey", "key for table %q on %q", key.Table, f.table)
	}
	start := time.Now()
	doc, ok, err := f.backend.Get(ctx, f.table, key.DocID(), proj)
	f.metrics.ObserveSearch(f.table, err, time.Since(start))
	if err != nil {
		f.log.Warn("lookup failed", "table", f.table, "key", key.String(), "err", err)
		return nil, lmserrors.WrapTransient(err, "Facade", "GetByKey", "lookup "+key.String())
	}
	if !ok {
		return nil, lmserrors.NotFound("Facade", "GetByKey", key.String())
	}
	return doc, nil
}

// Search returns the given page with DefaultPageSize documents per page.
func (f *Facade[T]) Search(ctx context.Context, q Query, page int) (Hits[T], error) {
	return f.SearchSized(ctx, q, page, DefaultPageSize)
}

func (f *Facade[T]) SearchSized(ctx context.Context, q Query, page, size int) (Hits[T], error) {
	for _, c := range append(slices.Clone(q.Must), q.Should...) {
		if c.Field == "" {
			return Hits[T]{}, lmserrors.Invalid("Facade", "Search", "clause %s without field", c.Op)
		}
	}
	pg := Paginate(page, size)

	start := time.Now()
	items, total, err := f.backend.Find(ctx, f.table, q, pg)
	took := time.Since(start)
	f.metrics.ObserveSearch(f.table, err, took)
	if err != nil {
		f.log.Warn("search failed", "table", f.table, "err", err)
		return Hits[T]{}, lmserrors.WrapTransient(err, "Facade", "Search", "find in "+f.table)
	}
	f.log.Debug("search", "table", f.table, "offset", pg.Offset, "limit", pg.Limit,
		"items", len(items), "total", total, "took", took)
	if items == nil {
		items = []T{}
	}
	return Hits[T]{Items: items, Total: total}, nil
}

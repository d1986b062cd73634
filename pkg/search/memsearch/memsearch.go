// Package memsearch is an in-process search.Backend. Documents are held as
// JSON objects and queries are evaluated over their top-level fields.
//
// Match is a case-insensitive substring test, not a ranked full-text search.
package memsearch

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"

	"github.com/surrealdb/surreallms/pkg/search"
)

type doc struct {
	id     string
	fields map[string]any
}

// Index holds documents by table and id.
type Index[T any] struct {
	mu     sync.RWMutex
	tables map[string]map[string]doc
	order  map[string][]string
}

func New[T any]() *Index[T] {
	return &Index[T]{
		tables: make(map[string]map[string]doc),
		order:  make(map[string][]string),
	}
}

// Put stores v under id, replacing any previous document.
func (x *Index[T]) Put(table, id string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("document for %s:%s is not an object: %w", table, id, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	docs, ok := x.tables[table]
	if !ok {
		docs = make(map[string]doc)
		x.tables[table] = docs
	}
	if _, exists := docs[id]; !exists {
		x.order[table] = append(x.order[table], id)
	}
	docs[id] = doc{id: id, fields: fields}
	return nil
}

func (x *Index[T]) Remove(table, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.tables[table][id]; !ok {
		return
	}
	delete(x.tables[table], id)
	x.order[table] = slices.DeleteFunc(x.order[table], func(s string) bool { return s == id })
}

func (x *Index[T]) Get(ctx context.Context, table, id string, proj search.Projection) (*T, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	x.mu.RLock()
	d, ok := x.tables[table][id]
	x.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	v, err := decode[T](project(d.fields, proj))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (x *Index[T]) Find(ctx context.Context, table string, q search.Query, page search.Page) ([]T, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	x.mu.RLock()
	var matched []doc
	for _, id := range x.order[table] {
		d := x.tables[table][id]
		if matches(d, q) {
			matched = append(matched, d)
		}
	}
	x.mu.RUnlock()

	if q.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			a := cast.ToString(matched[i].fields[q.OrderBy])
			b := cast.ToString(matched[j].fields[q.OrderBy])
			if q.Desc {
				return a > b
			}
			return a < b
		})
	}

	total := len(matched)
	if page.Offset < 0 || page.Limit < 1 || page.Offset >= total {
		return nil, total, nil
	}
	end := total
	if page.Limit < total-page.Offset {
		end = page.Offset + page.Limit
	}
	items := make([]T, 0, end-page.Offset)
	for _, d := range matched[page.Offset:end] {
		v, err := decode[T](project(d.fields, q.Projection))
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *v)
	}
	return items, total, nil
}

func matches(d doc, q search.Query) bool {
	for _, c := range q.Must {
		if !match(d, c) {
			return false
		}
	}
	if len(q.Should) == 0 {
		return true
	}
	for _, c := range q.Should {
		if match(d, c) {
			return true
		}
	}
	return false
}

func match(d doc, c search.Clause) bool {
	v := d.fields[c.Field]
	if c.Field == "id" {
		v = d.id
	}
	switch c.Op {
	case search.Equal:
		return cast.ToString(v) == cast.ToString(c.Value)
	case search.Match:
		return strings.Contains(strings.ToLower(cast.ToString(v)), strings.ToLower(cast.ToString(c.Value)))
	case search.HasKey:
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		_, has := m[cast.ToString(c.Value)]
		return has
	case search.In:
		return slices.Contains(cast.ToStringSlice(c.Value), cast.ToString(v))
	}
	return false
}

func project(fields map[string]any, proj search.Projection) map[string]any {
	include, omit := proj.Fields()
	out := make(map[string]any, len(fields))
	switch {
	case len(include) > 0:
		for _, f := range include {
			if v, ok := fields[f]; ok {
				out[f] = v
			}
		}
	default:
		for k, v := range fields {
			if !slices.Contains(omit, k) {
				out[k] = v
			}
		}
	}
	return out
}

func decode[T any](fields map[string]any) (*T, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

package search_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/metric"
	"github.com/surrealdb/surreallms/pkg/search"
	"github.com/surrealdb/surreallms/pkg/write"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// recorder captures the window and query of every Find.
type recorder struct {
	pages   []search.Page
	queries []search.Query
	docs    map[string]item
	total   int
	err     error
}

func (r *recorder) Get(_ context.Context, _ string, id string, _ search.Projection) (*item, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	d, ok := r.docs[id]
	if !ok {
		return nil, false, nil
	}
	return &d, true, nil
}

func (r *recorder) Find(_ context.Context, _ string, q search.Query, page search.Page) ([]item, int, error) {
	r.pages = append(r.pages, page)
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, 0, r.err
	}
	return []item{{ID: "a"}}, r.total, nil
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		page, size int
		want       search.Page
	}{
		{page: 0, size: 10, want: search.Page{Offset: 0, Limit: 10}},
		{page: -4, size: 10, want: search.Page{Offset: 0, Limit: 10}},
		{page: 1, size: 10, want: search.Page{Offset: 0, Limit: 10}},
		{page: 3, size: 10, want: search.Page{Offset: 20, Limit: 10}},
		{page: 2, size: 0, want: search.Page{Offset: 10, Limit: 10}},
		{page: 4, size: 25, want: search.Page{Offset: 75, Limit: 25}},
		{page: math.MaxInt/10 + 2, size: 10, want: search.Page{Offset: (math.MaxInt - 10) / 10 * 10, Limit: 10}},
		{page: math.MaxInt, size: math.MaxInt, want: search.Page{Offset: 0, Limit: math.MaxInt}},
	}
	for _, tt := range tests {
		got := search.Paginate(tt.page, tt.size)
		assert.Equal(t, tt.want, got, "page=%d size=%d", tt.page, tt.size)
		assert.GreaterOrEqual(t, got.Offset, 0)
		assert.GreaterOrEqual(t, got.Offset+got.Limit, got.Offset)
	}
}

func TestSearchPageZeroIsPageOne(t *testing.T) {
	r := &recorder{total: 42}
	f := search.NewFacade[item](r, "topics")
	ctx := context.Background()
	q := search.Query{Must: []search.Clause{search.Matches("name", "go")}}

	zero, err := f.Search(ctx, q, 0)
	require.NoError(t, err)
	one, err := f.Search(ctx, q, 1)
	require.NoError(t, err)
	_, err = f.Search(ctx, q, 3)
	require.NoError(t, err)

	assert.Equal(t, zero, one)
	require.Len(t, r.pages, 3)
	assert.Equal(t, r.pages[0], r.pages[1])
	assert.Equal(t, search.Page{Offset: 20, Limit: 10}, r.pages[2])
}

func TestSearchTotalIsStoreCount(t *testing.T) {
	r := &recorder{total: 42}
	hits, err := search.NewFacade[item](r, "topics").SearchSized(context.Background(), search.Query{}, 1, 5)
	require.NoError(t, err)
	assert.Len(t, hits.Items, 1)
	assert.Equal(t, 42, hits.Total)
}

func TestSearchRejectsClauseWithoutField(t *testing.T) {
	r := &recorder{}
	_, err := search.NewFacade[item](r, "topics").Search(context.Background(),
		search.Query{Should: []search.Clause{{Op: search.Match, Value: "x"}}}, 1)
	assert.True(t, lmserrors.IsInvalid(err))
	assert.Empty(t, r.pages)
}

func TestGetByKey(t *testing.T) {
	r := &recorder{docs: map[string]item{"t1": {ID: "t1", Name: "go"}}}
	f := search.NewFacade[item](r, "topics")
	ctx := context.Background()

	got, err := f.GetByKey(ctx, write.NewKey("topics", "id", "t1"), search.Projection{})
	require.NoError(t, err)
	assert.Equal(t, "go", got.Name)

	_, err = f.GetByKey(ctx, write.NewKey("topics", "id", "missing"), search.Projection{})
	assert.True(t, lmserrors.IsNotFound(err))
	assert.ErrorIs(t, err, lmserrors.ErrNotFound)

	_, err = f.GetByKey(ctx, write.NewKey("users", "id", "t1"), search.Projection{})
	assert.True(t, lmserrors.IsInvalid(err))
}

func TestStoreErrorsAreTransient(t *testing.T) {
	m := metric.New()
	r := &recorder{err: errors.New("connection reset")}
	f := search.NewFacade[item](r, "topics", search.WithMetrics(m))
	ctx := context.Background()

	_, err := f.Search(ctx, search.Query{}, 1)
	assert.True(t, lmserrors.IsTransient(err))
	_, err = f.GetByKey(ctx, write.NewKey("topics", "id", "t1"), search.Projection{})
	assert.True(t, lmserrors.IsTransient(err))
	assert.False(t, lmserrors.IsNotFound(err))

	assert.Equal(t, 2.0, searchCount(t, m, "error"))
}

func searchCount(t *testing.T, m *metric.Metrics, status string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var n float64
	for _, mf := range families {
		if mf.GetName() != "surreallms_search_total" {
			continue
		}
		for _, mt := range mf.GetMetric() {
			for _, l := range mt.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					n += mt.GetCounter().GetValue()
				}
			}
		}
	}
	return n
}

func TestProjectionFields(t *testing.T) {
	tests := []struct {
		name   string
		proj   search.Projection
		fields []string
		omit   []string
	}{
		{name: "empty"},
		{
			name: "exclude only",
			proj: search.Projection{Exclude: []string{"hash_password"}},
			omit: []string{"hash_password"},
		},
		{
			name:   "include wins",
			proj:   search.Projection{Include: []string{"id", "email", "hash_password"}, Exclude: []string{"hash_password"}},
			fields: []string{"id", "email"},
		},
		{
			name:   "include emptied",
			proj:   search.Projection{Include: []string{"email"}, Exclude: []string{"email"}},
			fields: []string{"id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, omit := tt.proj.Fields()
			assert.Equal(t, tt.fields, fields)
			assert.Equal(t, tt.omit, omit)
		})
	}
}

// Package surreal is the derived store on SurrealDB. It serves point lookups
// and paginated searches for search.Facade.
//
// Documents live at record ids built from the authoritative key: table:⟨id⟩
// for single-column keys and table:⟨["p1","p2",…]⟩ for composite keys, the id
// being write.Key.DocID. Replication into these tables happens outside this
// package; Put and Remove exist for seeding and tests.
//
//	store, err := surreal.Open(ctx, surreal.Options{
//		URL:       "ws://localhost:8000/rpc",
//		Namespace: "lms",
//		Database:  "lms",
//		Username:  "root",
//		Password:  "root",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close(ctx)
//
//	topics := search.NewFacade[models.Topic](surreal.NewBackend[models.Topic](store), models.TableTopics)
package surreal

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	surrealdb "github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/search"
)

// Analyzer is the full-text analyzer search indexes use.
const Analyzer = "lms_text"

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Options struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// Store is a SurrealDB connection scoped to one namespace and database.
type Store struct {
	db *surrealdb.DB
}

// Open connects, signs in when credentials are given and selects the
// namespace and database.
func Open(ctx context.Context, opts Options) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if opts.Username != "" && opts.Password != "" {
		token, err := db.SignIn(ctx, map[string]any{
			"user": opts.Username,
			"pass": opts.Password,
		})
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
		if err := db.Authenticate(ctx, token); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, opts.Namespace, opts.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}
	return New(db), nil
}

func New(db *surrealdb.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *surrealdb.DB { return s.db }

func (s *Store) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

// Index is a full-text index on one field.
type Index struct {
	Table string
	Field string
}

func (i Index) name() string { return i.Table + "_" + i.Field + "_search" }

// Migrate defines the tables as schemaless, the analyzer and the full-text
// indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context, tables []string, indexes ...Index) error {
	stmts, err := schema(tables, indexes)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := surrealdb.Query[any](ctx, s.db, stmt, nil); err != nil {
			return fmt.Errorf("failed to migrate %q: %w", stmt, err)
		}
	}
	return nil
}

func schema(tables []string, indexes []Index) ([]string, error) {
	stmts := make([]string, 0, len(tables)+len(indexes)+1)
	for _, t := range tables {
		if !identRe.MatchString(t) {
			return nil, fmt.Errorf("invalid table name %q", t)
		}
		stmts = append(stmts, fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", t))
	}
	if len(indexes) > 0 {
		stmts = append(stmts, fmt.Sprintf(
			"DEFINE ANALYZER IF NOT EXISTS %s TOKENIZERS blank, class FILTERS lowercase, ascii, snowball(english)",
			Analyzer))
	}
	for _, i := range indexes {
		if !identRe.MatchString(i.Table) || !identRe.MatchString(i.Field) {
			return nil, fmt.Errorf("invalid index %s.%s", i.Table, i.Field)
		}
		stmts = append(stmts, fmt.Sprintf(
			"DEFINE INDEX IF NOT EXISTS %s ON TABLE %s FIELDS %s SEARCH ANALYZER %s BM25",
			i.name(), i.Table, i.Field, Analyzer))
	}
	return stmts, nil
}

func recordID(table, id string) surrealmodels.RecordID {
	return models.DocID{Table: table, ID: id}.RecordID()
}

// Put upserts doc at table:⟨id⟩.
func (s *Store) Put(ctx context.Context, table, id string, doc any) error {
	vars := map[string]any{"rid": recordID(table, id), "doc": doc}
	if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $doc RETURN NONE", vars); err != nil {
		return fmt.Errorf("failed to put %s:%s: %w", table, id, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, table, id string) error {
	vars := map[string]any{"rid": recordID(table, id)}
	if _, err := surrealdb.Query[any](ctx, s.db, "DELETE $rid", vars); err != nil {
		return fmt.Errorf("failed to remove %s:%s: %w", table, id, err)
	}
	return nil
}

// Backend implements search.Backend for documents decoded into T.
type Backend[T any] struct {
	store *Store
}

func NewBackend[T any](store *Store) *Backend[T] {
	return &Backend[T]{store: store}
}

func (b *Backend[T]) Get(ctx context.Context, table, id string, proj search.Projection) (*T, bool, error) {
	sql, vars, err := buildGet(table, id, proj)
	if err != nil {
		return nil, false, err
	}
	res, err := surrealdb.Query[[]T](ctx, b.store.db, sql, vars)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s:%s: %w", table, id, err)
	}
	if res == nil || len(*res) == 0 || len((*res)[0].Result) == 0 {
		return nil, false, nil
	}
	doc := (*res)[0].Result[0]
	return &doc, true, nil
}

type countResult struct {
	Total int `json:"total"`
}

func (b *Backend[T]) Find(ctx context.Context, table string, q search.Query, page search.Page) ([]T, int, error) {
	sql, vars, err := buildFind(table, q, page)
	if err != nil {
		return nil, 0, err
	}
	res, err := surrealdb.Query[[]T](ctx, b.store.db, sql, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search %s: %w", table, err)
	}
	var items []T
	if res != nil && len(*res) > 0 {
		items = (*res)[0].Result
	}

	sql, vars, err = buildCount(table, q)
	if err != nil {
		return nil, 0, err
	}
	counted, err := surrealdb.Query[[]countResult](ctx, b.store.db, sql, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	total := 0
	if counted != nil && len(*counted) > 0 && len((*counted)[0].Result) > 0 {
		total = (*counted)[0].Result[0].Total
	}
	return items, total, nil
}

// statement accumulates the bound variables of one query.
type statement struct {
	vars map[string]any
}

func newStatement() *statement {
	return &statement{vars: map[string]any{}}
}

// bind adds v as the next positional variable and returns its reference.
func (st *statement) bind(v any) string {
	name := fmt.Sprintf("p%d", len(st.vars)+1)
	st.vars[name] = v
	return "$" + name
}

func selectFields(proj search.Projection) (string, error) {
	fields, omit := proj.Fields()
	for _, f := range append(fields, omit...) {
		if !identRe.MatchString(f) {
			return "", fmt.Errorf("invalid field %q", f)
		}
	}
	if len(fields) > 0 {
		return strings.Join(fields, ", "), nil
	}
	if len(omit) > 0 {
		return "* OMIT " + strings.Join(omit, ", "), nil
	}
	return "*", nil
}

func buildGet(table, id string, proj search.Projection) (string, map[string]any, error) {
	if !identRe.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	fields, err := selectFields(proj)
	if err != nil {
		return "", nil, err
	}
	return "SELECT " + fields + " FROM $rid", map[string]any{"rid": recordID(table, id)}, nil
}

// where renders the query's clauses, or "" when there are none.
func where(st *statement, table string, q search.Query) (string, error) {
	conds := make([]string, 0, len(q.Must)+1)
	for _, c := range q.Must {
		cond, err := clause(st, table, c)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	if len(q.Should) > 0 {
		alts := make([]string, 0, len(q.Should))
		for _, c := range q.Should {
			cond, err := clause(st, table, c)
			if err != nil {
				return "", err
			}
			alts = append(alts, cond)
		}
		conds = append(conds, "("+strings.Join(alts, " OR ")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

func clause(st *statement, table string, c search.Clause) (string, error) {
	if !identRe.MatchString(c.Field) {
		return "", fmt.Errorf("invalid field %q", c.Field)
	}
	switch c.Op {
	case search.Equal:
		return c.Field + " = " + st.bind(c.Value), nil
	case search.Match:
		return c.Field + " @@ " + st.bind(c.Value), nil
	case search.HasKey:
		return "object::keys(" + c.Field + ") CONTAINS " + st.bind(c.Value), nil
	case search.In:
		values, ok := c.Value.([]string)
		if !ok {
			return "", fmt.Errorf("in clause on %s needs []string, got %T", c.Field, c.Value)
		}
		if c.Field != "id" {
			return c.Field + " IN " + st.bind(values), nil
		}
		ids := make([]surrealmodels.RecordID, len(values))
		for i, v := range values {
			ids[i] = recordID(table, v)
		}
		return "id IN " + st.bind(ids), nil
	default:
		return "", fmt.Errorf("unsupported operator %s", c.Op)
	}
}

func buildFind(table string, q search.Query, page search.Page) (string, map[string]any, error) {
	if !identRe.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	fields, err := selectFields(q.Projection)
	if err != nil {
		return "", nil, err
	}
	st := newStatement()
	cond, err := where(st, table, q)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + fields + " FROM " + table + cond)
	if q.OrderBy != "" {
		if !identRe.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("invalid order field %q", q.OrderBy)
		}
		sb.WriteString(" ORDER BY " + q.OrderBy)
		if q.Desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}
	fmt.Fprintf(&sb, " LIMIT %d START %d", page.Limit, page.Offset)
	return sb.String(), st.vars, nil
}

func buildCount(table string, q search.Query) (string, map[string]any, error) {
	if !identRe.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	st := newStatement()
	cond, err := where(st, table, q)
	if err != nil {
		return "", nil, err
	}
	return "SELECT count() AS total FROM " + table + cond + " GROUP ALL", st.vars, nil
}

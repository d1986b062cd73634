// Package postgres is an authoritative store on PostgreSQL using GORM.
//
// Every table carries two expiry columns. cell_expiry is a jsonb object with
// the expiry of the row and of each column and map entry written with a TTL;
// expires_at is when the whole row stops being live, NULL while any part of it
// is permanent. Each Apply runs in one transaction that locks the row, drops
// its expired cells, evaluates every predicate against what is left and only
// then writes. Creation uses ON CONFLICT DO NOTHING so that of two concurrent
// creators exactly one applies.
//
//	store, err := postgres.Open(dsn, models.Tables())
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.Migrate(ctx, models.All()...); err != nil {
//		return err
//	}
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/surrealdb/surreallms/pkg/write"
)

// Expiry columns.
const (
	expiresAt  = "expires_at"
	cellExpiry = "cell_expiry"
)

// cell_expiry keys: the row marker, then prefixes for columns and map
// entries.
const (
	rowCell = "row"
	colCell = "c:"
	mapCell = "m:"
)

// createAttempts bounds how often Apply re-reads a row another transaction
// created under it.
const createAttempts = 3

// Store implements write.Store on PostgreSQL.
type Store struct {
	db     *gorm.DB
	tables map[string]write.Table
}

// Open connects to PostgreSQL.
func Open(dsn string, tables []write.Table) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, tables), nil
}

func New(db *gorm.DB, tables []write.Table) *Store {
	s := &Store{db: db, tables: make(map[string]write.Table, len(tables))}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

// Migrate creates or updates the tables of the given row models.
func (s *Store) Migrate(ctx context.Context, rows ...any) error {
	return s.db.WithContext(ctx).AutoMigrate(rows...)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func keyCond(k write.Key) (string, []any) {
	conds := make([]string, len(k.Parts))
	args := make([]any, len(k.Parts))
	for i, p := range k.Parts {
		conds[i] = quote(p.Column) + " = ?"
		args[i] = p.Value
	}
	return strings.Join(conds, " AND "), args
}

func (s *Store) Apply(ctx context.Context, intents []write.Intent) (bool, error) {
	if len(intents) == 0 {
		return true, nil
	}
	key := intents[0].Key

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var now time.Time
		if err := tx.Raw("SELECT now()").Scan(&now).Error; err != nil {
			return err
		}

		for attempt := 0; attempt < createAttempts; attempt++ {
			stored, err := s.load(tx, key, true)
			if err != nil {
				return err
			}
			current := stored.Live(now)
			for _, in := range intents {
				if !in.Predicate.Holds(current != nil) {
					return nil
				}
			}

			next := current
			for _, in := range intents {
				next = next.Apply(in, now)
			}
			created, err := s.save(tx, key, stored, next, touched(intents))
			if err != nil {
				return err
			}
			if created {
				applied = true
				return nil
			}
			// A concurrent creator committed first.
			for _, in := range intents {
				if in.Predicate == write.MustNotExist {
					return nil
				}
			}
		}
		return fmt.Errorf("%s: row keeps changing under concurrent creates", key)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// touched lists the scalar columns the intents write.
func touched(intents []write.Intent) map[string]struct{} {
	cols := map[string]struct{}{}
	for _, in := range intents {
		for col := range in.Set {
			cols[col] = struct{}{}
		}
	}
	return cols
}

// load reads the stored row at key, expired cells included. It returns nil
// when there is no row.
func (s *Store) load(tx *gorm.DB, key write.Key, lock bool) (*write.State, error) {
	cond, args := keyCond(key)
	q := tx.Table(key.Table).Where(cond, args...).Limit(1)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return s.decode(key, rows[0])
}

// save writes next over stored. It reports false only when stored was nil
// and another transaction created the row first.
func (s *Store) save(tx *gorm.DB, key write.Key, stored, next *write.State, cols map[string]struct{}) (bool, error) {
	table := quote(key.Table)
	cond, args := keyCond(key)
	t := s.tables[key.Table]

	switch {
	case next == nil && stored == nil:
		return true, nil
	case next == nil:
		return true, tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s", table, cond), args...).Error
	case stored == nil:
		row := make(map[string]any, len(key.Parts)+len(next.Columns)+3)
		for _, p := range key.Parts {
			row[p.Column] = p.Value
		}
		for col, v := range next.Columns {
			row[col] = v
		}
		if t.Map != "" && len(next.Map) > 0 {
			row[t.Map] = jsonMap(next.Map)
		}
		row[cellExpiry] = encodeExpiry(next)
		row[expiresAt] = nullTime(next.ExpiresAt())
		res := tx.Table(key.Table).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected == 1, nil
	}

	updates := make(map[string]any, len(cols)+3)
	for col := range cols {
		if v, ok := next.Columns[col]; ok {
			updates[col] = v
		}
	}
	for col := range stored.Columns {
		if _, ok := next.Columns[col]; !ok {
			updates[col] = nil
		}
	}
	if t.Map != "" {
		if len(next.Map) == 0 {
			updates[t.Map] = nil
		} else {
			updates[t.Map] = jsonMap(next.Map)
		}
	}
	updates[cellExpiry] = encodeExpiry(next)
	updates[expiresAt] = nullTime(next.ExpiresAt())
	return true, tx.Table(key.Table).Where(cond, args...).Updates(updates).Error
}

func jsonMap(m map[string]string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func encodeExpiry(st *write.State) datatypes.JSONMap {
	m := datatypes.JSONMap{}
	if !st.RowExpiresAt.IsZero() {
		m[rowCell] = st.RowExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	for col, exp := range st.ColumnExpiry {
		m[colCell+col] = exp.UTC().Format(time.RFC3339Nano)
	}
	for k, exp := range st.MapExpiry {
		m[mapCell+k] = exp.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func decodeExpiry(v any, st *write.State) error {
	cells, err := decodeMap(v)
	if err != nil {
		return err
	}
	for name, raw := range cells {
		exp, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("cell %q: %w", name, err)
		}
		switch {
		case name == rowCell:
			st.RowExpiresAt = exp
		case strings.HasPrefix(name, colCell):
			if st.ColumnExpiry == nil {
				st.ColumnExpiry = map[string]time.Time{}
			}
			st.ColumnExpiry[strings.TrimPrefix(name, colCell)] = exp
		case strings.HasPrefix(name, mapCell):
			if st.MapExpiry == nil {
				st.MapExpiry = map[string]time.Time{}
			}
			st.MapExpiry[strings.TrimPrefix(name, mapCell)] = exp
		}
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, key write.Key) (write.Record, bool, error) {
	var st *write.State
	var now time.Time
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw("SELECT now()").Scan(&now).Error; err != nil {
			return err
		}
		var err error
		st, err = s.load(tx, key, false)
		return err
	})
	if err != nil {
		return write.Record{}, false, err
	}
	st = st.Live(now)
	if st == nil {
		return write.Record{}, false, nil
	}
	return st.Record(), true, nil
}

func (s *Store) decode(key write.Key, row map[string]any) (*write.State, error) {
	t := s.tables[key.Table]
	st := &write.State{Key: key, Columns: map[string]any{}}
	keyCols := make(map[string]struct{}, len(key.Parts))
	for _, p := range key.Parts {
		keyCols[p.Column] = struct{}{}
	}
	for col, v := range row {
		if _, isKey := keyCols[col]; isKey {
			continue
		}
		switch {
		case col == expiresAt:
		case col == cellExpiry:
			if err := decodeExpiry(v, st); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", key.Table, col, err)
			}
		case t.Map != "" && col == t.Map:
			m, err := decodeMap(v)
			if err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", key.Table, col, err)
			}
			st.Map = m
		case v == nil:
		default:
			st.Columns[col] = v
		}
	}
	return st, nil
}

func decodeMap(v any) (map[string]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		v = string(t)
	}
	return cast.ToStringMapStringE(v)
}

// Sweep deletes rows whose every part has expired and returns how many were
// removed. Rows that are still live keep their expired cells until the next
// write to them; reads skip those cells.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	var total int64
	for name := range s.tables {
		res := s.db.WithContext(ctx).Exec(
			fmt.Sprintf("DELETE FROM %s WHERE expires_at <= now()", quote(name)))
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

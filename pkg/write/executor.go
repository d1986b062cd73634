package write

import (
	"context"
	"time"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/logger"
	"github.com/surrealdb/surreallms/pkg/metric"
)

const component = "Executor"

// Executor validates intents and issues them against a Store. It holds no
// mutable state and is safe for concurrent use.
type Executor struct {
	store   Store
	tables  map[string]Table
	log     logger.Logger
	metrics *metric.Metrics
}

type Option func(*Executor)

func WithLogger(l logger.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func WithMetrics(m *metric.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func NewExecutor(store Store, tables []Table, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		tables: make(map[string]Table, len(tables)),
		log:    logger.Nop(),
	}
	for _, t := range tables {
		e.tables[t.Name] = t
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Table returns the declared layout of name.
func (e *Executor) Table(name string) (Table, bool) {
	t, ok := e.tables[name]
	return t, ok
}

// Write issues a single conditional statement.
func (e *Executor) Write(ctx context.Context, in Intent) (bool, error) {
	return e.Batch(ctx, in)
}

// Delete removes the record at key if pred holds.
func (e *Executor) Delete(ctx context.Context, key Key, pred Predicate) (bool, error) {
	return e.Batch(ctx, Intent{Key: key, Delete: true, Predicate: pred})
}

// Batch applies intents atomically. All intents must target the same key.
// Predicates are evaluated against the state before the batch; if any does
// not hold, nothing is applied and Batch returns false.
func (e *Executor) Batch(ctx context.Context, intents ...Intent) (bool, error) {
	start := time.Now()
	if err := e.validateBatch(intents); err != nil {
		table := ""
		if len(intents) > 0 {
			table = intents[0].Key.Table
		}
		e.metrics.ObserveWrite(table, batchPredicate(intents), metric.OutcomeInvalid, time.Since(start))
		return false, err
	}

	key := intents[0].Key
	applied, err := e.store.Apply(ctx, intents)
	took := time.Since(start)
	if err != nil {
		e.metrics.ObserveWrite(key.Table, batchPredicate(intents), metric.OutcomeError, took)
		e.log.Error("write failed", "key", key.String(), "statements", len(intents), "err", err)
		return false, lmserrors.WrapTransient(err, component, "Batch", "apply")
	}

	outcome := metric.OutcomeApplied
	if !applied {
		outcome = metric.OutcomeRejected
	}
	e.metrics.ObserveWrite(key.Table, batchPredicate(intents), outcome, took)
	e.log.Debug("write", "key", key.String(), "predicate", batchPredicate(intents),
		"statements", len(intents), "applied", applied, "took", took)
	return applied, nil
}

// Lookup reads the live record at key from the authoritative store. It
// returns a NotFound error when there is none.
func (e *Executor) Lookup(ctx context.Context, key Key) (Record, error) {
	if _, err := e.checkKey(key); err != nil {
		return Record{}, err
	}
	rec, ok, err := e.store.Lookup(ctx, key)
	if err != nil {
		return Record{}, lmserrors.WrapTransient(err, component, "Lookup", "lookup")
	}
	if !ok {
		return Record{}, lmserrors.NotFound(component, "Lookup", key.String())
	}
	return rec, nil
}

func batchPredicate(intents []Intent) string {
	if len(intents) == 0 {
		return "none"
	}
	p := intents[0].Predicate
	for _, in := range intents[1:] {
		if in.Predicate != p {
			return "mixed"
		}
	}
	return p.String()
}

func (e *Executor) validateBatch(intents []Intent) error {
	if len(intents) == 0 {
		return lmserrors.Invalid(component, "Batch", "empty batch")
	}
	for i, in := range intents {
		if i > 0 && !in.Key.Equal(intents[0].Key) {
			return lmserrors.Invalid(component, "Batch",
				"batch spans keys %s and %s", intents[0].Key, in.Key)
		}
		if err := e.validate(in); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) checkKey(key Key) (Table, error) {
	t, ok := e.tables[key.Table]
	if !ok {
		return Table{}, lmserrors.Invalid(component, "Write", "unknown table %q", key.Table)
	}
	if len(key.Parts) != len(t.Key) {
		return Table{}, lmserrors.Invalid(component, "Write",
			"table %s has %d key columns, got %d", t.Name, len(t.Key), len(key.Parts))
	}
	for i, p := range key.Parts {
		if p.Column != t.Key[i] {
			return Table{}, lmserrors.Invalid(component, "Write",
				"key column %d of %s is %q, got %q", i, t.Name, t.Key[i], p.Column)
		}
		if p.Value == "" {
			return Table{}, lmserrors.Invalid(component, "Write", "empty value for key column %q", p.Column)
		}
	}
	return t, nil
}

func (e *Executor) validate(in Intent) error {
	t, err := e.checkKey(in.Key)
	if err != nil {
		return err
	}
	if in.Predicate < None || in.Predicate > MustExist {
		return lmserrors.Invalid(component, "Write", "unknown %s", in.Predicate)
	}
	if in.TTL < 0 {
		return lmserrors.Invalid(component, "Write", "negative ttl %s", in.TTL)
	}
	if in.Delete {
		if len(in.Set) > 0 || len(in.MapAssign) > 0 || len(in.MapRemove) > 0 {
			return lmserrors.Invalid(component, "Write", "delete cannot carry column writes")
		}
		if in.Predicate == MustNotExist {
			return lmserrors.Invalid(component, "Write", "delete requires a record to exist")
		}
		return nil
	}

	usesMap := in.MapColumn != "" || len(in.MapAssign) > 0 || len(in.MapRemove) > 0
	if usesMap && (t.Map == "" || in.MapColumn != t.Map) {
		return lmserrors.Invalid(component, "Write", "table %s has no map column %q", t.Name, in.MapColumn)
	}
	for _, k := range in.MapRemove {
		if _, both := in.MapAssign[k]; both {
			return lmserrors.Invalid(component, "Write", "map entry %q both assigned and removed", k)
		}
	}
	for col := range in.Set {
		if err := checkColumn(t, col); err != nil {
			return err
		}
	}
	return nil
}

func checkColumn(t Table, col string) error {
	for _, k := range t.Key {
		if col == k {
			return lmserrors.Invalid(component, "Write", "key column %q cannot be set", col)
		}
	}
	if col == t.Map && t.Map != "" {
		return lmserrors.Invalid(component, "Write", "map column %q must be written through map operations", col)
	}
	if len(t.Columns) == 0 {
		return nil
	}
	for _, c := range t.Columns {
		if c == col {
			return nil
		}
	}
	return lmserrors.Invalid(component, "Write", "unknown column %q in %s", col, t.Name)
}

package write

import (
	"maps"
	"time"
)

// State is the stored form of one record with an expiry per cell. Backends
// that evaluate batches outside the database keep records as State.
//
// Each column and map entry expires on its own: a statement with a TTL stamps
// the cells it writes and nothing else, and a statement without one makes the
// cells it writes permanent. The row itself carries the expiry of the
// statement that created it. A record is live while its row or any of its
// cells is live.
type State struct {
	Key Key
	// RowExpiresAt is the expiry of the creating statement.
	RowExpiresAt time.Time
	Columns      map[string]any
	ColumnExpiry map[string]time.Time
	Map          map[string]string
	MapExpiry    map[string]time.Time
}

func alive(exp, now time.Time) bool {
	return exp.IsZero() || now.Before(exp)
}

func stamp(exps map[string]time.Time, name string, exp time.Time) map[string]time.Time {
	if exp.IsZero() {
		delete(exps, name)
		return exps
	}
	if exps == nil {
		exps = map[string]time.Time{}
	}
	exps[name] = exp
	return exps
}

// Live returns a copy of s holding only the cells still live at now, or nil
// when nothing of the record is live.
func (s *State) Live(now time.Time) *State {
	if s == nil {
		return nil
	}
	out := &State{
		Key:          s.Key,
		RowExpiresAt: s.RowExpiresAt,
		Columns:      make(map[string]any, len(s.Columns)),
	}
	for col, v := range s.Columns {
		exp := s.ColumnExpiry[col]
		if !alive(exp, now) {
			continue
		}
		out.Columns[col] = v
		out.ColumnExpiry = stamp(out.ColumnExpiry, col, exp)
	}
	for k, v := range s.Map {
		exp := s.MapExpiry[k]
		if !alive(exp, now) {
			continue
		}
		if out.Map == nil {
			out.Map = map[string]string{}
		}
		out.Map[k] = v
		out.MapExpiry = stamp(out.MapExpiry, k, exp)
	}
	if !alive(s.RowExpiresAt, now) && len(out.Columns) == 0 && len(out.Map) == 0 {
		return nil
	}
	return out
}

// Apply returns the state after in, which must target s.Key. s is live at
// now or nil, and is modified in place.
func (s *State) Apply(in Intent, now time.Time) *State {
	if in.Delete {
		return nil
	}
	var exp time.Time
	if in.TTL > 0 {
		exp = now.Add(in.TTL)
	}
	if s == nil {
		s = &State{Key: in.Key, RowExpiresAt: exp, Columns: map[string]any{}}
	}
	for col, v := range in.Set {
		s.Columns[col] = v
		s.ColumnExpiry = stamp(s.ColumnExpiry, col, exp)
	}
	if len(in.MapAssign) > 0 && s.Map == nil {
		s.Map = map[string]string{}
	}
	for k, v := range in.MapAssign {
		s.Map[k] = v
		s.MapExpiry = stamp(s.MapExpiry, k, exp)
	}
	for _, k := range in.MapRemove {
		delete(s.Map, k)
		delete(s.MapExpiry, k)
	}
	return s
}

// ExpiresAt is when the record stops being live: the latest of the row and
// cell expiries, or zero when any of them is permanent.
func (s *State) ExpiresAt() time.Time {
	if s.RowExpiresAt.IsZero() {
		return time.Time{}
	}
	last := s.RowExpiresAt
	for col := range s.Columns {
		exp, ok := s.ColumnExpiry[col]
		if !ok {
			return time.Time{}
		}
		if exp.After(last) {
			last = exp
		}
	}
	for k := range s.Map {
		exp, ok := s.MapExpiry[k]
		if !ok {
			return time.Time{}
		}
		if exp.After(last) {
			last = exp
		}
	}
	return last
}

// Record copies s into a Record.
func (s *State) Record() Record {
	return Record{
		Key:          s.Key,
		Columns:      maps.Clone(s.Columns),
		Map:          maps.Clone(s.Map),
		ExpiresAt:    s.ExpiresAt(),
		ColumnExpiry: maps.Clone(s.ColumnExpiry),
		MapExpiry:    maps.Clone(s.MapExpiry),
	}
}

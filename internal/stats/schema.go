package stats

import (
	"fmt"
)

type MergeRule int

const (
	MergeSum MergeRule = iota
	MergeMax
)

func (m MergeRule) String() string {
	switch m {
	case MergeSum:
		return "sum"
	case MergeMax:
		return "max"
	default:
		return "unknown"
	}
}

// Column describes one persisted counter. Get and Set bind the column to a
// Record field; the persistence layer only ever sees the values.
type Column struct {
	Name    string
	SQLType string
	Default int64
	Merge   MergeRule
	Get     func(Record) int64
	Set     func(*Record, int64)
}

func (c Column) merge(old, new int64) int64 {
	switch c.Merge {
	case MergeMax:
		if new > old {
			return new
		}
		return old
	default:
		if new < 0 {
			return old
		}
		return old + new
	}
}

// Schema is an ordered, immutable list of columns.
type Schema struct {
	columns []Column
}

func NewSchema(columns ...Column) (Schema, error) {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if !ValidIdentifier(c.Name) {
			return Schema{}, fmt.Errorf("invalid column name %q", c.Name)
		}
		if seen[c.Name] {
			return Schema{}, fmt.Errorf("duplicate column %q", c.Name)
		}
		if c.Get == nil || c.Set == nil {
			return Schema{}, fmt.Errorf("column %q has no field binding", c.Name)
		}
		seen[c.Name] = true
	}
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return Schema{columns: cols}, nil
}

func mustSchema(columns ...Column) Schema {
	s, err := NewSchema(columns...)
	if err != nil {
		panic(err)
	}
	return s
}

// With returns a new schema with extra appended after the existing columns.
func (s Schema) With(extra ...Column) (Schema, error) {
	all := make([]Column, 0, len(s.columns)+len(extra))
	all = append(all, s.columns...)
	all = append(all, extra...)
	return NewSchema(all...)
}

func (s Schema) Clone() Schema {
	cols := make([]Column, len(s.columns))
	copy(cols, s.columns)
	return Schema{columns: cols}
}

func (s Schema) Len() int {
	return len(s.columns)
}

func (s Schema) Columns() []Column {
	cols := make([]Column, len(s.columns))
	copy(cols, s.columns)
	return cols
}

func (s Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

func (s Schema) Values(r Record) []int64 {
	values := make([]int64, len(s.columns))
	for i, c := range s.columns {
		values[i] = c.Get(r)
	}
	return values
}

func (s Schema) Record(values []int64) Record {
	var r Record
	for i, c := range s.columns {
		if i >= len(values) {
			break
		}
		c.Set(&r, values[i])
	}
	return r
}

// MergeValues combines a persisted row with a submitted snapshot column by column.
func (s Schema) MergeValues(old, new []int64) []int64 {
	merged := make([]int64, len(s.columns))
	for i, c := range s.columns {
		var o, n int64
		if i < len(old) {
			o = old[i]
		}
		if i < len(new) {
			n = new[i]
		}
		merged[i] = c.merge(o, n)
	}
	return merged
}

func (s Schema) Merge(old, new Record) Record {
	return s.Record(s.MergeValues(s.Values(old), s.Values(new)))
}

func ValidIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var (
	KillsColumn = Column{
		Name: "kills", SQLType: "INTEGER", Merge: MergeSum,
		Get: func(r Record) int64 { return r.Kills },
		Set: func(r *Record, v int64) { r.Kills = v },
	}
	DeathsColumn = Column{
		Name: "deaths", SQLType: "INTEGER", Merge: MergeSum,
		Get: func(r Record) int64 { return r.Deaths },
		Set: func(r *Record, v int64) { r.Deaths = v },
	}
	SpreeColumn = Column{
		Name: "spree", SQLType: "INTEGER", Merge: MergeMax,
		Get: func(r Record) int64 { return r.BestSpree },
		Set: func(r *Record, v int64) { r.BestSpree = v },
	}
	WinsColumn = Column{
		Name: "wins", SQLType: "INTEGER", Merge: MergeSum,
		Get: func(r Record) int64 { return r.Wins },
		Set: func(r *Record, v int64) { r.Wins = v },
	}
	LossesColumn = Column{
		Name: "losses", SQLType: "INTEGER", Merge: MergeSum,
		Get: func(r Record) int64 { return r.Losses },
		Set: func(r *Record, v int64) { r.Losses = v },
	}

	PointsColumn = Column{
		Name: "points", SQLType: "INTEGER", Merge: MergeSum,
		Get: func(r Record) int64 { return r.Points },
		Set: func(r *Record, v int64) { r.Points = v },
	}
	TicksInGameColumn = Column{
		Name: "ticks_in_game", SQLType: "INTEGER", Merge: MergeSum,
		Get: func(r Record) int64 { return r.TicksInGame },
		Set: func(r *Record, v int64) { r.TicksInGame = v },
	}
	TicksCaughtColumn = Column{
		Name: "ticks_caught", SQLType: "INTEGER", Merge: MergeSum,
		Get: func(r Record) int64 { return r.TicksCaught },
		Set: func(r *Record, v int64) { r.TicksCaught = v },
	}
)

// BaseSchema holds the columns every mode persists.
var BaseSchema = mustSchema(KillsColumn, DeathsColumn, SpreeColumn, WinsColumn, LossesColumn)

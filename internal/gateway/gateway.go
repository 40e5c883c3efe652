// Package gateway provides serialized table access over the on-device SQLite
// database. Every operation on a table holds that table's lock, so operations
// against one table never interleave. There are no transactions spanning
// calls.
package gateway

import (
	"context"
	"fmt"
)

// Table names.
const (
	TableEvents = "events"

	TableAppStarted      = "app_started"
	TableAppStartTime    = "app_start_time"
	TableAppPausedTime   = "app_paused_time"
	TableAppEndState     = "app_end_state"
	TableAppEndData      = "app_end_data"
	TableLoginID         = "login_id"
	TableSessionInterval = "session_interval_time"
)

// Column names shared by the tables.
const (
	ColumnID        = "_id"
	ColumnData      = "data"
	ColumnCreatedAt = "created_at"
	ColumnValue     = "value"
	ColumnUpdatedAt = "updated_at"
)

// Gateway is the table-level contract consumed by the queue and session stores.
type Gateway interface {
	// Insert writes one row and returns its id. Singleton tables replace
	// their only row.
	Insert(ctx context.Context, table string, row Row) (int64, error)

	// BulkInsert writes all rows in one transaction. Either every row is
	// written or none is.
	BulkInsert(ctx context.Context, table string, rows []Row) (int, error)

	// Query returns rows in the requested order, capped at q.Limit when positive.
	Query(ctx context.Context, table string, q Query) ([]Row, error)

	// Delete removes rows matching where; a nil predicate removes every row.
	// Returns the number of rows removed.
	Delete(ctx context.Context, table string, where *Predicate) (int64, error)

	// Count returns the number of rows in the table.
	Count(ctx context.Context, table string) (int64, error)

	// Path returns the database file path.
	Path() string

	// Close releases the database handle.
	Close() error
}

// Row is a column → value map. Values come back from SQLite as int64,
// float64, string or []byte.
type Row map[string]any

// Int64 returns an integer column, accepting the representations SQLite may
// hand back.
func (r Row) Int64(column string) (int64, bool) {
	switch v := r[column].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// String returns a text column.
func (r Row) String(column string) (string, bool) {
	switch v := r[column].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Bool returns a boolean column stored as an integer.
func (r Row) Bool(column string) (bool, bool) {
	n, ok := r.Int64(column)
	if !ok {
		return false, false
	}
	return n > 0, true
}

// Order describes a single ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows from one table.
type Query struct {
	OrderBy []Order
	Limit   int
}

// Predicate is a single column comparison used by Delete.
type Predicate struct {
	Column   string
	Operator string // "=", "<", "<=", ">", ">="
	Value    any
}

// IDAtMost matches rows whose id is <= id.
func IDAtMost(id int64) *Predicate {
	return &Predicate{Column: ColumnID, Operator: "<=", Value: id}
}

var validOperators = map[string]bool{
	"=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *Predicate) validate(t *tableDef) error {
	if !t.hasColumn(p.Column) {
		return fmt.Errorf("unknown column %q in table %q", p.Column, t.name)
	}
	if !validOperators[p.Operator] {
		return fmt.Errorf("unsupported operator %q", p.Operator)
	}
	return nil
}

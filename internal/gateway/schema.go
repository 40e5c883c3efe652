package gateway

import "sort"

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 1

// tableDef describes a table the gateway is allowed to touch. Identifiers in
// generated SQL only ever come from these definitions.
type tableDef struct {
	name      string
	columns   []string
	singleton bool
	ddl       string
}

func (t *tableDef) hasColumn(column string) bool {
	for _, c := range t.columns {
		if c == column {
			return true
		}
	}
	return false
}

// AUTOINCREMENT keeps ids strictly increasing even after the highest row is
// trimmed, which the boundary-based trim relies on.
const eventsDDL = `
	CREATE TABLE IF NOT EXISTS events (
		_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		data       TEXT    NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`

func singletonDDL(name, valueType string) string {
	return `
	CREATE TABLE IF NOT EXISTS ` + name + ` (
		_id        INTEGER PRIMARY KEY CHECK (_id = 1),
		value      ` + valueType + `,
		updated_at INTEGER NOT NULL
	);
`
}

var singletonColumns = []string{ColumnID, ColumnValue, ColumnUpdatedAt}

var tables = map[string]*tableDef{
	TableEvents: {
		name:    TableEvents,
		columns: []string{ColumnID, ColumnData, ColumnCreatedAt},
		ddl:     eventsDDL,
	},
	TableAppStarted:      singleton(TableAppStarted, "INTEGER"),
	TableAppStartTime:    singleton(TableAppStartTime, "INTEGER"),
	TableAppPausedTime:   singleton(TableAppPausedTime, "INTEGER"),
	TableAppEndState:     singleton(TableAppEndState, "INTEGER"),
	TableAppEndData:      singleton(TableAppEndData, "TEXT"),
	TableLoginID:         singleton(TableLoginID, "TEXT"),
	TableSessionInterval: singleton(TableSessionInterval, "INTEGER"),
}

func singleton(name, valueType string) *tableDef {
	return &tableDef{
		name:      name,
		columns:   singletonColumns,
		singleton: true,
		ddl:       singletonDDL(name, valueType),
	}
}

// tableNames returns the known tables in a stable order.
func tableNames() []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

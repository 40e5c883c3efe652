package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
)

// SQLiteGateway implements Gateway on a single SQLite connection.
type SQLiteGateway struct {
	db     *sql.DB
	path   string
	locks  map[string]*sync.Mutex
	logger *slog.Logger
}

// Options configures the SQLite gateway.
type Options struct {
	// BusyTimeout is how long SQLite waits on a locked database (default 5s).
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Open creates or opens the database at path and applies the schema.
// Parent directories are created if needed.
func Open(path string, opts Options) (*SQLiteGateway, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("gateway: failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to open database: %w", err)
	}
	// Single writer; SQLite serializes writes anyway and one connection keeps
	// every statement on the same view of the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway: failed to connect to database: %w", err)
	}

	g := &SQLiteGateway{
		db:     db,
		path:   path,
		locks:  make(map[string]*sync.Mutex, len(tables)),
		logger: logger,
	}
	for name := range tables {
		g.locks[name] = &sync.Mutex{}
	}

	if err := g.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("gateway: failed to initialize schema: %w", err)
	}

	logger.Debug("database opened", "path", path)
	return g, nil
}

func (g *SQLiteGateway) initSchema() error {
	for _, name := range tableNames() {
		if _, err := g.db.Exec(tables[name].ddl); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	if _, err := g.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (g *SQLiteGateway) Path() string {
	return g.path
}

// Close closes the database connection.
func (g *SQLiteGateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// acquire locks the named table and returns its definition.
func (g *SQLiteGateway) acquire(table string) (*tableDef, func(), error) {
	def, ok := tables[table]
	if !ok {
		return nil, nil, qerrors.NewValidationError(qerrors.CodeUnknownTable, "unknown table").
			WithDetails(map[string]interface{}{"table": table})
	}
	mu := g.locks[table]
	mu.Lock()
	return def, mu.Unlock, nil
}

// Insert writes one row and returns its id.
func (g *SQLiteGateway) Insert(ctx context.Context, table string, row Row) (int64, error) {
	def, release, err := g.acquire(table)
	if err != nil {
		return 0, err
	}
	defer release()

	query, args, err := buildInsert(def, row)
	if err != nil {
		return 0, err
	}
	res, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: last insert id: %w", table, err)
	}
	return id, nil
}

// BulkInsert writes all rows in a single transaction.
func (g *SQLiteGateway) BulkInsert(ctx context.Context, table string, rows []Row) (int, error) {
	def, release, err := g.acquire(table)
	if err != nil {
		return 0, err
	}
	defer release()

	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bulk insert into %s: begin tx: %w", table, err)
	}
	defer tx.Rollback() // No-op if committed

	stmts := make(map[string]*sql.Stmt)
	defer func() {
		for _, s := range stmts {
			s.Close()
		}
	}()

	for i, row := range rows {
		query, args, err := buildInsert(def, row)
		if err != nil {
			return 0, fmt.Errorf("bulk insert into %s: row %d: %w", table, i, err)
		}
		stmt, ok := stmts[query]
		if !ok {
			stmt, err = tx.PrepareContext(ctx, query)
			if err != nil {
				return 0, fmt.Errorf("bulk insert into %s: prepare: %w", table, err)
			}
			stmts[query] = stmt
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("bulk insert into %s: row %d: %w", table, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bulk insert into %s: commit: %w", table, err)
	}
	return len(rows), nil
}

// Query returns rows of table ordered and limited per q.
func (g *SQLiteGateway) Query(ctx context.Context, table string, q Query) ([]Row, error) {
	def, release, err := g.acquire(table)
	if err != nil {
		return nil, err
	}
	defer release()

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(def.columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(def.name)

	if len(q.OrderBy) > 0 {
		terms := make([]string, 0, len(q.OrderBy))
		for _, o := range q.OrderBy {
			if !def.hasColumn(o.Column) {
				return nil, fmt.Errorf("query %s: unknown order column %q", table, o.Column)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms = append(terms, o.Column+" "+dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	var args []any
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := g.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		values := make([]any, len(def.columns))
		ptrs := make([]any, len(def.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", table, err)
		}
		row := make(Row, len(def.columns))
		for i, c := range def.columns {
			row[c] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return result, nil
}

// Delete removes rows matching where, or every row when where is nil.
func (g *SQLiteGateway) Delete(ctx context.Context, table string, where *Predicate) (int64, error) {
	def, release, err := g.acquire(table)
	if err != nil {
		return 0, err
	}
	defer release()

	query := "DELETE FROM " + def.name
	var args []any
	if where != nil {
		if err := where.validate(def); err != nil {
			return 0, fmt.Errorf("delete from %s: %w", table, err)
		}
		query += " WHERE " + where.Column + " " + where.Operator + " ?"
		args = append(args, where.Value)
	}

	res, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: rows affected: %w", table, err)
	}
	g.logger.Debug("deleted rows", "table", table, "count", n)
	return n, nil
}

// Count returns the number of rows in table.
func (g *SQLiteGateway) Count(ctx context.Context, table string) (int64, error) {
	def, release, err := g.acquire(table)
	if err != nil {
		return 0, err
	}
	defer release()

	var n int64
	if err := g.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+def.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// buildInsert renders an INSERT for row. Singleton tables always target
// _id = 1 and replace the existing row.
func buildInsert(def *tableDef, row Row) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("empty row")
	}

	values := make(Row, len(row)+2)
	for k, v := range row {
		values[k] = v
	}
	if def.singleton {
		values[ColumnID] = int64(1)
		if _, ok := values[ColumnUpdatedAt]; !ok {
			values[ColumnUpdatedAt] = time.Now().UnixMilli()
		}
	}

	columns := make([]string, 0, len(values))
	for c := range values {
		if !def.hasColumn(c) {
			return "", nil, fmt.Errorf("unknown column %q in table %q", c, def.name)
		}
		columns = append(columns, c)
	}
	sort.Strings(columns)

	args := make([]any, len(columns))
	for i, c := range columns {
		args[i] = values[c]
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := "INSERT INTO " + def.name + " (" + strings.Join(columns, ", ") + ") VALUES (" + placeholders + ")"
	if def.singleton {
		var sets []string
		for _, c := range columns {
			if c == ColumnID {
				continue
			}
			sets = append(sets, c+" = excluded."+c)
		}
		query += " ON CONFLICT(_id) DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return query, args, nil
}

// Package gateway is the only durable-storage boundary: an append-only
// SQLite log of history records, keyframes, and bookkeeping, plus the
// worker goroutine that owns the live connection. Everything above it
// treats the in-process cache as the source of truth between flushes.
package gateway

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// ErrIntegrity is surfaced on duplicate-key inserts. Callers insert
// optimistically and handle the conflict rather than read-then-write.
var ErrIntegrity = errors.New("integrity violation")

// ErrUnknownTable means a table name outside the registered families.
var ErrUnknownTable = errors.New("unknown table")

// tableDef registers a table's columns and canonical dump order.
// Bookkeeping tables are upserts: branch end markers, turn markers and
// cursor globals advance in place across flushes. The history log
// families stay plain inserts so a duplicate append fails loudly.
type tableDef struct {
	columns []string
	orderBy string
	upsert  bool
}

// Tables is the registry of every table family the gateway serves.
// Dumps are ordered by logical time so cold-start cache population can
// replay them directly.
var Tables = map[string]tableDef{
	"global": {
		columns: []string{"key", "value"},
		orderBy: "key",
		upsert:  true,
	},
	"branches": {
		columns: []string{"branch", "parent", "parent_turn", "parent_tick", "end_turn", "end_tick"},
		orderBy: "branch",
		upsert:  true,
	},
	"turns": {
		columns: []string{"branch", "turn", "end_tick", "plan_end_tick"},
		orderBy: "branch, turn",
		upsert:  true,
	},
	"graphs": {
		columns: []string{"graph", "type"},
		orderBy: "graph",
	},
	"keyframes": {
		columns: []string{"graph", "branch", "turn", "tick", "payload"},
		orderBy: "graph, branch, turn, tick",
		upsert:  true,
	},
	"graph_val": {
		columns: []string{"graph", "stat", "branch", "turn", "tick", "value", "absent", "plan"},
		orderBy: "branch, turn, tick, graph, stat",
	},
	"nodes": {
		columns: []string{"graph", "node", "branch", "turn", "tick", "extant", "plan"},
		orderBy: "branch, turn, tick, graph, node",
	},
	"node_val": {
		columns: []string{"graph", "node", "stat", "branch", "turn", "tick", "value", "absent", "plan"},
		orderBy: "branch, turn, tick, graph, node, stat",
	},
	"edges": {
		columns: []string{"graph", "orig", "dest", "idx", "branch", "turn", "tick", "extant", "plan"},
		orderBy: "branch, turn, tick, graph, orig, dest, idx",
	},
	"edge_val": {
		columns: []string{"graph", "orig", "dest", "idx", "stat", "branch", "turn", "tick", "value", "absent", "plan"},
		orderBy: "branch, turn, tick, graph, orig, dest, idx, stat",
	},
	"plans": {
		columns: []string{"plan", "branch", "turn", "tick"},
		orderBy: "branch, turn, tick, plan",
	},
	"plan_ticks": {
		columns: []string{"plan", "branch", "turn", "tick", "voided"},
		orderBy: "branch, turn, tick, plan, voided",
	},
}

// Store is the SQLite-backed durable log.
// Uses WAL mode for concurrent read access; the connection pool is
// capped at one because SQLite allows a single writer and the worker
// serializes everything anyway.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path (":memory:" works) and
// applies pragmas and schema. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// InsertMany appends rows to table in one transaction. On log tables
// the caller guarantees distinct primary keys and a duplicate surfaces
// as ErrIntegrity with nothing applied; bookkeeping tables replace in
// place.
func (s *Store) InsertMany(ctx context.Context, table string, rows [][]any) error {
	def, ok := Tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(rows) == 0 {
		return nil
	}
	verb := "INSERT"
	if def.upsert {
		verb = "INSERT OR REPLACE"
	}
	placeholders := "(" + strings.Repeat("?, ", len(def.columns)-1) + "?)"
	stmtSQL := fmt.Sprintf(
		"%s INTO %s (%s) VALUES %s",
		verb, table, strings.Join(def.columns, ", "), placeholders,
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare %s: %w", table, err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if len(row) != len(def.columns) {
			tx.Rollback()
			return fmt.Errorf("%s row has %d values, want %d", table, len(row), len(def.columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return wrapSQLiteErr(table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table, err)
	}
	return nil
}

// Dump returns every row of table in its canonical order, for
// cold-start cache population.
func (s *Store) Dump(ctx context.Context, table string) ([][]any, error) {
	def, ok := Tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	q := fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s",
		strings.Join(def.columns, ", "), table, def.orderBy,
	)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(def.columns))
		ptrs := make([]any, len(def.columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dump %s: %w", table, err)
	}
	return out, nil
}

// Count returns the row count of table, for "has this ever been
// written" checks.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if _, ok := Tables[table]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// wrapSQLiteErr maps constraint violations onto ErrIntegrity.
func wrapSQLiteErr(table string, err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s: %v", ErrIntegrity, table, err)
	}
	return fmt.Errorf("insert %s: %w", table, err)
}

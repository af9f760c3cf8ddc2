// Package testutil provides a stub database/sql driver that understands the
// handful of statements issued by the postgres store and advisory locker.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// StubConn records statements and keeps upserted rows in memory. Inserts
// issued inside a transaction become visible on commit.
type StubConn struct {
	mu         sync.Mutex
	tx         *stubTx
	Execs      []string
	Tables     map[string][]map[string]any
	Locks      map[int64]bool
	FailExec   bool
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	RowsErr    error
	FailTables map[string]bool
}

var driverSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any), Locks: make(map[int64]bool)}
	name := fmt.Sprintf("stubpg%d", driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tx = &stubTx{conn: c}
	return c.tx, nil
}

// Rows returns the stored rows of table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.Tables[table]...)
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	ins := insert{table: table, key: cols[0], row: row, upsert: strings.Contains(upper, "ON CONFLICT")}
	if c.tx != nil {
		c.tx.staged = append(c.tx.staged, ins)
		return driver.RowsAffected(1), nil
	}
	c.apply(ins)
	return driver.RowsAffected(1), nil
}

type insert struct {
	table  string
	key    string
	row    map[string]any
	upsert bool
}

// apply requires c.mu.
func (c *StubConn) apply(ins insert) {
	if ins.upsert {
		kept := c.Tables[ins.table][:0]
		for _, existing := range c.Tables[ins.table] {
			if existing[ins.key] != ins.row[ins.key] {
				kept = append(kept, existing)
			}
		}
		c.Tables[ins.table] = kept
	}
	c.Tables[ins.table] = append(c.Tables[ins.table], ins.row)
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lower := strings.ToLower(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(lower, "select pg_try_advisory_lock("):
		key, err := lockKey(args)
		if err != nil {
			return nil, err
		}
		acquired := !c.Locks[key]
		c.Locks[key] = true
		return &stubRows{cols: []string{"pg_try_advisory_lock"}, rows: [][]driver.Value{{acquired}}}, nil
	case strings.HasPrefix(lower, "select pg_advisory_unlock("):
		key, err := lockKey(args)
		if err != nil {
			return nil, err
		}
		held := c.Locks[key]
		delete(c.Locks, key)
		return &stubRows{cols: []string{"pg_advisory_unlock"}, rows: [][]driver.Value{{held}}}, nil
	}
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	values := make([][]driver.Value, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

func lockKey(args []driver.NamedValue) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("advisory lock expects one argument, got %d", len(args))
	}
	key, ok := args[0].Value.(int64)
	if !ok {
		return 0, fmt.Errorf("advisory lock key must be int64, got %T", args[0].Value)
	}
	return key, nil
}

type stubTx struct {
	conn   *StubConn
	staged []insert
}

func (t *stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tx = nil
	if c.FailCommit {
		return fmt.Errorf("commit fail")
	}
	for _, ins := range t.staged {
		c.apply(ins)
	}
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.tx = nil
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(query)
	fromIdx := strings.Index(lower, " from ")
	if !strings.HasPrefix(lower, "select ") || fromIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	rest := strings.Fields(query[fromIdx+len(" from "):])
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return strings.ToLower(rest[0]), splitColumns(query[len("select "):fromIdx]), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}

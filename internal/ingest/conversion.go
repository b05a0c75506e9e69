// Package ingest loads a source file's records into a backing-store table.
//
// A Conversion is a state machine driven by the caller: each Step loads
// one batch inside a single transaction that spans the whole conversion,
// and reports progress. Callers interleave other work between steps, or
// use Run to drive a conversion to completion.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/encoding"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/format"
	"github.com/johndauphine/joinkit/internal/logging"
	"github.com/johndauphine/joinkit/internal/store"
)

// DefaultBatchSize is the number of records loaded per Step.
const DefaultBatchSize = 250

// Source is what a conversion reads: an open adapter and its fields.
// *registry.Source satisfies it.
type Source interface {
	Adapter() format.Adapter
	Fields() []*field.Field
}

// Progress is reported after every Step.
type Progress struct {
	// Fraction is Rows/Total when Known, 0 otherwise, and 1 when Done.
	Fraction float64

	// Known reports whether the source knows its record count. When it
	// does not, each Step is a heartbeat.
	Known bool

	// Done is set once the table is committed, or was already there.
	Done bool

	// Rows is the number of rows inserted so far.
	Rows int64

	// Total is the source record count, when Known.
	Total int64
}

type state int

const (
	statePending state = iota
	stateLoading
	stateDone
	stateFailed
)

// Conversion materializes one source under one alias. The store stays
// usable between Steps, but only one conversion per store may be loading
// at a time: a second one waits on the write lock and then fails.
type Conversion struct {
	store     *store.Store
	src       Source
	alias     string
	table     string
	fields    []*field.Field
	types     []field.Type
	batchSize int
	fallback  encoding.Encoding
	stamp     *store.Stamp

	state    state
	err      error
	skipped  bool
	wide     bool
	decoder  *encoding.Decoder
	tx       *sql.Tx
	stmt     *sql.Stmt
	it       format.Iterator
	next     format.Record
	hasNext  bool
	total    int64
	known    bool
	reported float64
	stats    Stats
}

// Option configures a Conversion.
type Option func(*Conversion)

// WithBatchSize sets how many records each Step loads.
func WithBatchSize(n int) Option {
	return func(c *Conversion) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFallbackEncoding sets the charset used to decode text that is not
// valid UTF-8 when the adapter does not declare one.
func WithFallbackEncoding(enc encoding.Encoding) Option {
	return func(c *Conversion) { c.fallback = enc }
}

// WithStamp records st in the store catalog in the same transaction that
// loads the table, so a later run can tell which file version it holds.
func WithStamp(st store.Stamp) Option {
	return func(c *Conversion) { c.stamp = &st }
}

// New prepares a conversion of src into table_<alias>. Nothing touches
// the store until the first Step.
func New(st *store.Store, src Source, alias string, opts ...Option) *Conversion {
	c := &Conversion{
		store:     st,
		src:       src,
		alias:     alias,
		table:     store.TableName(alias),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fields = BindFields(src.Fields(), alias)
	c.types = make([]field.Type, len(c.fields))
	for i, f := range c.fields {
		c.types[i] = field.Negotiate(f, st.Dialect().Name()).Type()
	}
	return c
}

// BindFields returns copies of fields with their backing columns set for
// alias. Sources shared by several aliases keep their own fields intact.
func BindFields(fields []*field.Field, alias string) []*field.Field {
	out := make([]*field.Field, len(fields))
	for i, f := range fields {
		c := f.Copy()
		c.Column = store.ColumnName(alias, f.OriginalName)
		out[i] = c
	}
	return out
}

// Table returns the name of the table being loaded.
func (c *Conversion) Table() string { return c.table }

// Alias returns the alias the table is named after.
func (c *Conversion) Alias() string { return c.alias }

// Fields returns the fields with their backing columns assigned.
func (c *Conversion) Fields() []*field.Field { return c.fields }

// Skipped reports whether the table already existed.
func (c *Conversion) Skipped() bool { return c.skipped }

// Wide reports whether text is being decoded from the source charset.
func (c *Conversion) Wide() bool { return c.wide }

// Stats returns the timing statistics gathered so far.
func (c *Conversion) Stats() Stats { return c.stats }

// Err returns the error that failed the conversion, if any.
func (c *Conversion) Err() error { return c.err }

// Step advances the conversion by one batch.
func (c *Conversion) Step(ctx context.Context) (Progress, error) {
	switch c.state {
	case stateDone:
		return c.progress(), nil
	case stateFailed:
		return c.progress(), c.err
	}
	if err := ctx.Err(); err != nil {
		return c.progress(), c.fail(err)
	}

	if c.state == statePending {
		exists, err := c.store.TableExists(ctx, c.table)
		if err != nil {
			return c.progress(), c.fail(err)
		}
		if exists {
			logging.Debug("Table %s already exists, skipping conversion", c.table)
			c.skipped = true
			c.state = stateDone
			return c.progress(), nil
		}
		if err := c.begin(ctx); err != nil {
			return c.progress(), c.fail(err)
		}
		c.state = stateLoading
	}

	for n := 0; n < c.batchSize && c.hasNext; n++ {
		if err := c.insert(ctx, c.next); err != nil {
			if c.store.Dialect().IsEncodingError(err) && !c.wide {
				if rerr := c.restartWide(ctx); rerr != nil {
					return c.progress(), c.fail(rerr)
				}
				return c.progress(), nil
			}
			return c.progress(), c.fail(err)
		}
		if err := c.advance(); err != nil {
			return c.progress(), c.fail(err)
		}
	}

	if !c.hasNext {
		if err := c.commit(); err != nil {
			return c.progress(), c.fail(err)
		}
	}
	return c.progress(), nil
}

// Run steps the conversion until it is done, calling fn after each step.
// A cancelled ctx rolls the conversion back.
func (c *Conversion) Run(ctx context.Context, fn func(Progress)) error {
	for {
		if err := ctx.Err(); err != nil {
			c.Cancel()
			return err
		}
		p, err := c.Step(ctx)
		if err != nil {
			return err
		}
		if fn != nil {
			fn(p)
		}
		if p.Done {
			return nil
		}
	}
}

// Cancel abandons an unfinished conversion, rolling back and dropping the
// partial table. It does nothing once the conversion is done or failed.
func (c *Conversion) Cancel() {
	if c.state == stateDone || c.state == stateFailed {
		return
	}
	c.fail(context.Canceled)
}

// begin creates the table and positions the iterator on the first record.
func (c *Conversion) begin(ctx context.Context) error {
	adapter := c.src.Adapter()
	c.total, c.known = adapter.Count()

	ddl, err := c.store.CreateTableSQL(c.table, c.fields)
	if err != nil {
		return err
	}
	if c.stamp != nil {
		if err := c.store.EnsureCatalog(ctx); err != nil {
			return err
		}
	}
	// The transaction outlives the ctx of any single Step.
	tx, err := c.store.BeginTx(context.Background())
	if err != nil {
		return fmt.Errorf("starting transaction for %s: %w", c.table, err)
	}
	c.tx = tx
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", c.table, err)
	}

	columns := make([]string, len(c.fields))
	for i, f := range c.fields {
		columns[i] = f.Column
	}
	stmt, err := tx.PrepareContext(ctx, c.store.InsertSQL(c.table, columns))
	if err != nil {
		return fmt.Errorf("preparing insert into %s: %w", c.table, err)
	}
	c.stmt = stmt

	it, err := adapter.Records()
	if err != nil {
		return fmt.Errorf("reading %s: %w", adapter.Path(), err)
	}
	c.it = it
	logging.Debug("Created %s with %d columns", c.table, len(c.fields))
	return c.advance()
}

// advance reads the lookahead record.
func (c *Conversion) advance() error {
	start := time.Now()
	c.hasNext = c.it.Next()
	c.stats.ReadTime += time.Since(start)
	if c.hasNext {
		c.next = c.it.Record()
		return nil
	}
	c.next = nil
	if err := c.it.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", c.src.Adapter().Path(), err)
	}
	return nil
}

func (c *Conversion) insert(ctx context.Context, rec format.Record) error {
	args, err := c.bind(rec)
	if errors.Is(err, ErrTextEncoding) && !c.wide {
		c.widen()
		args, err = c.bind(rec)
	}
	if err != nil {
		return fmt.Errorf("row %d: %w", c.stats.Rows+1, err)
	}

	start := time.Now()
	_, err = c.stmt.ExecContext(ctx, args...)
	c.stats.WriteTime += time.Since(start)
	if err != nil {
		if c.store.Dialect().IsEncodingError(err) && c.wide {
			return fmt.Errorf("row %d: %w: %v", c.stats.Rows+1, ErrTextEncoding, err)
		}
		return fmt.Errorf("inserting row %d into %s: %w", c.stats.Rows+1, c.table, err)
	}
	c.stats.Rows++
	return nil
}

// bind converts a record into insert arguments in column order.
func (c *Conversion) bind(rec format.Record) ([]any, error) {
	d := c.store.Dialect()
	args := make([]any, len(c.fields))
	for i, f := range c.fields {
		v := rec[f.Name]
		switch t := v.(type) {
		case string:
			s, err := c.text(t)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			v = s
		case []byte:
			s, err := c.text(string(t))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			v = s
		}
		args[i] = d.BindValue(v, c.types[i])
	}
	return args, nil
}

func (c *Conversion) text(s string) (string, error) {
	if c.wide {
		return wideText(c.decoder, s)
	}
	return narrowText(s)
}

// widen switches every later text value to charset decoding.
func (c *Conversion) widen() {
	enc := sourceCharset(c.src.Adapter(), c.fallback)
	c.wide = true
	c.decoder = enc.NewDecoder()
	logging.Warn("%s: text is not UTF-8, decoding with %v from row %d on", c.table, enc, c.stats.Rows+1)
}

// restartWide replays the conversion in wide mode after the store rejected
// text. The aborted transaction cannot continue, so the table is created
// again from a fresh pass over the source.
func (c *Conversion) restartWide(ctx context.Context) error {
	logging.Warn("%s: store rejected text at row %d, reloading with charset decoding", c.table, c.stats.Rows+1)
	c.rollback()
	c.widen()
	c.stats.Rows = 0
	c.stats.Restarts++
	return c.begin(ctx)
}

func (c *Conversion) commit() error {
	if err := c.stmt.Close(); err != nil {
		return fmt.Errorf("closing insert for %s: %w", c.table, err)
	}
	c.stmt = nil
	if c.stamp != nil {
		st := *c.stamp
		st.Table = c.table
		if err := c.store.PutStamp(context.Background(), c.tx, st); err != nil {
			return err
		}
	}
	if err := c.tx.Commit(); err != nil {
		c.tx = nil
		return fmt.Errorf("committing %s: %w", c.table, err)
	}
	c.tx = nil
	c.state = stateDone
	logging.Info("Loaded %s: %s", c.table, c.stats.String())
	return nil
}

func (c *Conversion) rollback() {
	if c.stmt != nil {
		c.stmt.Close()
		c.stmt = nil
	}
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logging.Warn("Rolling back %s: %v", c.table, err)
		}
		c.tx = nil
	}
}

// fail rolls back, drops any partial table and records err.
func (c *Conversion) fail(err error) error {
	if c.state == stateFailed {
		return c.err
	}
	hadWork := c.state == stateLoading || c.tx != nil
	c.rollback()
	if hadWork {
		if derr := c.store.DropTable(context.Background(), c.table); derr != nil {
			logging.Warn("Dropping partial %s: %v", c.table, derr)
		}
	}
	c.state = stateFailed
	c.err = fmt.Errorf("converting %s: %w", c.table, err)
	if errors.Is(err, context.Canceled) {
		logging.Warn("%v", c.err)
	} else {
		logging.Error("%v", c.err)
	}
	return c.err
}

func (c *Conversion) progress() Progress {
	p := Progress{Known: c.known, Total: c.total, Rows: c.stats.Rows}
	switch {
	case c.state == stateDone:
		p.Done = true
		p.Fraction = 1
	case c.known && c.total > 0:
		p.Fraction = float64(c.stats.Rows) / float64(c.total)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
	}
	// Replays after a restart must not move progress backwards.
	if p.Fraction < c.reported {
		p.Fraction = c.reported
	}
	c.reported = p.Fraction
	return p
}

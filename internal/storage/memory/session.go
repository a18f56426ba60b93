package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/storage"
)

// Call is one Exec or ExecBatch invocation seen by the session.
type Call struct {
	Batch      bool
	Logged     bool
	Statements []storage.Statement
	Err        error
}

// FailFunc decides whether call number n (1-based) fails.
// A non-nil error rejects the whole call before anything is applied.
type FailFunc func(n int, c Call) error

type cell struct {
	value any
	ts    int64
}

type row struct {
	key    []storage.Column
	marker int64 // INSERT row marker write time; 0 if never inserted
	cells  map[string]cell
}

type partition struct {
	tombstone int64
	rows      map[string]*row // keyed by clustering key
}

// Session is an in-memory implementation of storage.Session.
// Every cell carries a write timestamp. Later timestamps win; on equal
// timestamps the later call wins. A partition delete shadows every cell
// written at or before its timestamp.
type Session struct {
	mu     sync.RWMutex
	tables map[string]map[string]*partition
	clock  int64
	calls  []Call
	fail   FailFunc
	closed bool
}

var _ storage.Session = (*Session)(nil)

// NewSession creates an empty in-memory session.
func NewSession() *Session {
	return &Session{tables: make(map[string]map[string]*partition)}
}

// FailOn installs a fault injection hook.
func (s *Session) FailOn(f FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

// Calls returns every call made so far, in order.
func (s *Session) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// BatchSizes returns the statement count of every ExecBatch call, in order.
func (s *Session) BatchSizes() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sizes []int
	for _, c := range s.calls {
		if c.Batch {
			sizes = append(sizes, len(c.Statements))
		}
	}
	return sizes
}

// Exec applies a single statement.
func (s *Session) Exec(ctx context.Context, stmt storage.Statement) error {
	return s.apply(ctx, Call{Statements: []storage.Statement{stmt}})
}

// ExecBatch applies every statement of the batch or none of them.
func (s *Session) ExecBatch(ctx context.Context, batch storage.Batch) error {
	return s.apply(ctx, Call{Batch: true, Logged: batch.Logged, Statements: batch.Statements})
}

func (s *Session) apply(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrSessionClosed
	}

	n := len(s.calls) + 1
	if c.Batch {
		c.Err = storage.Batch{Logged: c.Logged, Statements: c.Statements}.Validate()
	} else if len(c.Statements) == 1 {
		c.Err = c.Statements[0].Validate()
	}
	if c.Err == nil && s.fail != nil {
		c.Err = s.fail(n, c)
	}
	s.calls = append(s.calls, c)
	if c.Err != nil {
		return c.Err
	}

	// A batch without explicit timestamps shares one server timestamp.
	now := s.tick()
	for _, stmt := range c.Statements {
		ts := stmt.Timestamp
		if ts == 0 {
			ts = now
		}
		s.applyStatement(stmt, ts)
	}
	return nil
}

// tick returns a strictly increasing server timestamp in microseconds.
func (s *Session) tick() int64 {
	now := time.Now().UnixMicro()
	if now <= s.clock {
		now = s.clock + 1
	}
	s.clock = now
	return now
}

func (s *Session) applyStatement(stmt storage.Statement, ts int64) {
	schema := storage.Schemas[stmt.Table]
	nPart := len(schema.Partition)

	parts := s.tables[stmt.Table]
	if parts == nil {
		parts = make(map[string]*partition)
		s.tables[stmt.Table] = parts
	}
	pk := keyString(stmt.Key[:nPart])
	p := parts[pk]
	if p == nil {
		p = &partition{rows: make(map[string]*row)}
		parts[pk] = p
	}

	if stmt.Op == storage.OpDeletePartition {
		if ts > p.tombstone {
			p.tombstone = ts
		}
		for ck, r := range p.rows {
			if r.marker <= p.tombstone {
				r.marker = 0
			}
			for name, c := range r.cells {
				if c.ts <= p.tombstone {
					delete(r.cells, name)
				}
			}
			if r.marker == 0 && len(r.cells) == 0 {
				delete(p.rows, ck)
			}
		}
		return
	}

	if ts <= p.tombstone {
		return
	}

	ck := keyString(stmt.Key[nPart:])
	r := p.rows[ck]
	if r == nil {
		r = &row{key: append([]storage.Column(nil), stmt.Key...), cells: make(map[string]cell)}
		p.rows[ck] = r
	}
	if stmt.Op == storage.OpInsert && ts >= r.marker {
		r.marker = ts
	}
	for _, c := range stmt.Set {
		if old, ok := r.cells[c.Name]; ok && old.ts > ts {
			continue
		}
		r.cells[c.Name] = cell{value: c.Value, ts: ts}
	}
}

func keyString(cols []storage.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprint(c.Value)
	}
	return strings.Join(parts, "\x00")
}

// rows returns every live row of a table.
func (s *Session) rows(table string) []*row {
	var out []*row
	for _, p := range s.tables[table] {
		for _, r := range p.rows {
			out = append(out, r)
		}
	}
	return out
}

func (s *Session) partitionRows(table string, key ...storage.Column) []*row {
	p := s.tables[table][keyString(key)]
	if p == nil {
		return nil
	}
	out := make([]*row, 0, len(p.rows))
	for _, r := range p.rows {
		out = append(out, r)
	}
	return out
}

func (r *row) keyValue(name string) any {
	for _, c := range r.key {
		if c.Name == name {
			return c.Value
		}
	}
	return nil
}

func (r *row) str(name string) string {
	v, _ := r.cells[name].value.(string)
	return v
}

func (r *row) integer(name string) int64 {
	switch v := r.cells[name].value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func (r *row) integerPtr(name string) *int64 {
	if _, ok := r.cells[name]; !ok {
		return nil
	}
	v := r.integer(name)
	return &v
}

func (r *row) dec(name string) decimal.Decimal {
	v, _ := r.cells[name].value.(decimal.Decimal)
	return v
}

func (r *row) decPtr(name string) *decimal.Decimal {
	c, ok := r.cells[name]
	if !ok {
		return nil
	}
	switch v := c.value.(type) {
	case decimal.Decimal:
		return &v
	case int64:
		d := decimal.NewFromInt(v)
		return &d
	}
	return nil
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return storage.ErrSessionClosed
	}
	return nil
}

// ListCollectionAddresses returns every stored collection address, sorted.
func (s *Session) ListCollectionAddresses(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows := s.rows(storage.TableCollection)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprint(r.keyValue(storage.ColAddress)))
	}
	sort.Strings(out)
	return out, nil
}

// GetCollection retrieves one collection. Returns ErrNotFound if absent.
func (s *Session) GetCollection(ctx context.Context, address string) (*domain.Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows := s.partitionRows(storage.TableCollection, storage.Column{Name: storage.ColAddress, Value: address})
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	r := rows[0]

	c := &domain.Collection{
		Address:     address,
		Name:        r.str(storage.ColName),
		Tokens:      r.integer(storage.ColTokens),
		Owners:      r.integer(storage.ColOwners),
		SalesVolume: r.dec(storage.ColSalesVolume),
		Floor:       r.decPtr(storage.ColFloor),
		Image:       r.str(storage.ColImage),
		BannerImage: r.str(storage.ColBannerImage),
		Description: r.str(storage.ColDescription),
		ExternalURL: r.str(storage.ColExternalURL),
	}
	if t := r.str(storage.ColType); t != "" {
		c.Types = strings.Split(t, ",")
	}
	return c, nil
}

// GetRankingPartition returns one (metric, duration) partition ordered by position.
func (s *Session) GetRankingPartition(ctx context.Context, metric domain.Metric, duration domain.Duration) ([]domain.RankingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows := s.partitionRows(storage.TableRanking,
		storage.Column{Name: storage.ColRank, Value: metric.String()},
		storage.Column{Name: storage.ColDuration, Value: duration.String()},
	)
	out := make([]domain.RankingEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RankingEntry{
			Metric:     metric,
			Duration:   duration,
			Position:   int(r.integer(storage.ColPosition)),
			Collection: fmt.Sprint(r.keyValue(storage.ColCollection)),
			Value:      r.dec(storage.ColValue),
			Provider:   metric.Provider(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Collection < out[j].Collection
	})
	return out, nil
}

// GetDataPoints returns the points of a collection ordered by timestamp.
func (s *Session) GetDataPoints(ctx context.Context, collection string) ([]domain.TimeSeriesPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	rows := s.partitionRows(storage.TableDataPoint, storage.Column{Name: storage.ColCollection, Value: collection})
	out := make([]domain.TimeSeriesPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TimeSeriesPoint{
			Collection:   collection,
			Timestamp:    fmt.Sprint(r.keyValue(storage.ColTimeStamp)),
			MinPrice:     r.decPtr(storage.ColMinPrice),
			MaxPrice:     r.decPtr(storage.ColMaxPrice),
			AvgPrice:     r.decPtr(storage.ColAveragePrice),
			SalesCount:   r.decPtr(storage.ColSalesCount),
			SalesVolume:  r.decPtr(storage.ColSalesVolume),
			TokensMinted: r.integerPtr(storage.ColTokensMinted),
			TokensBurned: r.integerPtr(storage.ColTokensBurned),
			TotalMinted:  r.integerPtr(storage.ColTotalMinted),
			TotalBurned:  r.integerPtr(storage.ColTotalBurned),
			OwnersCount:  r.integerPtr(storage.ColOwnersCount),
		})
	}
	// Canonical timestamps share one offset, so string order is time order.
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

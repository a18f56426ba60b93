package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nft-market-etl/internal/domain"
)

// Table names of the wide-column schema.
const (
	TableCollection = "collection"
	TableRanking    = "ranking"
	TableDataPoint  = "data_point"
)

// Column names of the wide-column schema.
const (
	ColAddress     = "address"
	ColName        = "name"
	ColType        = "type"
	ColTokens      = "tokens"
	ColOwners      = "owners"
	ColSalesVolume = "sales_volume"
	ColFloor       = "floor"
	ColImage       = "image"
	ColBannerImage = "banner_image"
	ColDescription = "description"
	ColExternalURL = "external_url"

	ColRank       = "rank" // holds the metric name
	ColDuration   = "duration"
	ColCollection = "collection"
	ColValue      = "value"
	ColPosition   = "position"

	ColTimeStamp    = "time_stamp"
	ColAveragePrice = "average_price"
	ColMaxPrice     = "max_price"
	ColMinPrice     = "min_price"
	ColSalesCount   = "sales_count"
	ColTokensMinted = "tokens_minted"
	ColTokensBurned = "tokens_burned"
	ColTotalMinted  = "total_minted"
	ColTotalBurned  = "total_burned"
	ColOwnersCount  = "owners_count"
)

// TableSchema describes the key layout and regular columns of a table.
type TableSchema struct {
	Name       string
	Partition  []string
	Clustering []string
	Columns    []string // regular (non-key) columns
}

// PrimaryKey returns partition columns followed by clustering columns.
func (s TableSchema) PrimaryKey() []string {
	pk := make([]string, 0, len(s.Partition)+len(s.Clustering))
	pk = append(pk, s.Partition...)
	return append(pk, s.Clustering...)
}

func (s TableSchema) isRegular(col string) bool {
	for _, c := range s.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Schemas is the table catalogue every statement is checked against.
var Schemas = map[string]TableSchema{
	TableCollection: {
		Name:      TableCollection,
		Partition: []string{ColAddress},
		Columns: []string{
			ColName, ColType, ColTokens, ColOwners, ColSalesVolume, ColFloor,
			ColImage, ColBannerImage, ColDescription, ColExternalURL,
		},
	},
	TableRanking: {
		Name:       TableRanking,
		Partition:  []string{ColRank, ColDuration},
		Clustering: []string{ColCollection},
		Columns:    []string{ColValue, ColPosition},
	},
	TableDataPoint: {
		Name:       TableDataPoint,
		Partition:  []string{ColCollection},
		Clustering: []string{ColTimeStamp},
		Columns: []string{
			ColAveragePrice, ColMaxPrice, ColMinPrice, ColSalesCount, ColSalesVolume,
			ColTokensMinted, ColTokensBurned, ColTotalMinted, ColTotalBurned, ColOwnersCount,
		},
	},
}

// Op is the kind of mutation a Statement performs.
type Op int

const (
	OpUpdate Op = iota + 1
	OpInsert
	OpDeletePartition
)

// String returns the CQL verb of the op.
func (o Op) String() string {
	switch o {
	case OpUpdate:
		return "UPDATE"
	case OpInsert:
		return "INSERT"
	case OpDeletePartition:
		return "DELETE"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Column is a column name bound to a value.
// Values are string, int, int64 or decimal.Decimal; time_stamp values are
// canonical timestamp strings.
type Column struct {
	Name  string
	Value any
}

// Statement is a typed, parameterized mutation of one table.
// Key lists the full primary key for OpUpdate and OpInsert and the
// partition key for OpDeletePartition, in schema order.
type Statement struct {
	Op        Op
	Table     string
	Key       []Column
	Set       []Column
	Timestamp int64 // write time in microseconds since epoch; 0 lets the server assign it
}

// Validate checks the statement against the table catalogue.
func (s Statement) Validate() error {
	schema, ok := Schemas[s.Table]
	if !ok {
		return fmt.Errorf("%w: unknown table %q", ErrInvalidInput, s.Table)
	}

	want := schema.PrimaryKey()
	if s.Op == OpDeletePartition {
		want = schema.Partition
	}
	if len(s.Key) != len(want) {
		return fmt.Errorf("%w: %s %s needs key %v", ErrInvalidInput, s.Op, s.Table, want)
	}
	for i, c := range s.Key {
		if c.Name != want[i] {
			return fmt.Errorf("%w: %s %s key column %d is %q, want %q", ErrInvalidInput, s.Op, s.Table, i, c.Name, want[i])
		}
		if c.Value == nil {
			return fmt.Errorf("%w: %s %s key column %q is null", ErrInvalidInput, s.Op, s.Table, c.Name)
		}
	}

	switch s.Op {
	case OpUpdate, OpInsert:
		if s.Op == OpUpdate && len(s.Set) == 0 {
			return fmt.Errorf("%w: UPDATE %s sets no columns", ErrInvalidInput, s.Table)
		}
		seen := make(map[string]bool, len(s.Set))
		for _, c := range s.Set {
			if !schema.isRegular(c.Name) {
				return fmt.Errorf("%w: %s has no regular column %q", ErrInvalidInput, s.Table, c.Name)
			}
			if seen[c.Name] {
				return fmt.Errorf("%w: column %q set twice", ErrInvalidInput, c.Name)
			}
			seen[c.Name] = true
		}
	case OpDeletePartition:
		if len(s.Set) > 0 {
			return fmt.Errorf("%w: DELETE %s cannot set columns", ErrInvalidInput, s.Table)
		}
	default:
		return fmt.Errorf("%w: unknown op %s", ErrInvalidInput, s.Op)
	}

	if s.Timestamp < 0 {
		return fmt.Errorf("%w: negative write timestamp", ErrInvalidInput)
	}
	return nil
}

// CQL renders the statement with ? placeholders and returns the bind values
// in placeholder order. Values are never interpolated into the query text.
func (s Statement) CQL() (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(s.Key)+len(s.Set)+1)

	using := func() {
		if s.Timestamp > 0 {
			b.WriteString(" USING TIMESTAMP ?")
			args = append(args, s.Timestamp)
		}
	}
	where := func() {
		b.WriteString(" WHERE ")
		for i, c := range s.Key {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(c.Name)
			b.WriteString(" = ?")
			args = append(args, c.Value)
		}
	}

	switch s.Op {
	case OpUpdate:
		b.WriteString("UPDATE ")
		b.WriteString(s.Table)
		using()
		b.WriteString(" SET ")
		for i, c := range s.Set {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(" = ?")
			args = append(args, c.Value)
		}
		where()

	case OpInsert:
		cols := append(append([]Column{}, s.Key...), s.Set...)
		names := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
			marks[i] = "?"
			args = append(args, c.Value)
		}
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", s.Table, strings.Join(names, ", "), strings.Join(marks, ", "))
		using()

	case OpDeletePartition:
		b.WriteString("DELETE FROM ")
		b.WriteString(s.Table)
		using()
		where()
	}

	return b.String(), args
}

// Batch groups statements executed as one CQL batch.
type Batch struct {
	Logged     bool
	Statements []Statement
}

// CQL renders the batch as a single BEGIN ... APPLY BATCH query.
func (b Batch) CQL() (string, []any) {
	var sb strings.Builder
	var args []any

	if b.Logged {
		sb.WriteString("BEGIN BATCH\n")
	} else {
		sb.WriteString("BEGIN UNLOGGED BATCH\n")
	}
	for _, s := range b.Statements {
		q, a := s.CQL()
		sb.WriteString("  ")
		sb.WriteString(q)
		sb.WriteString(";\n")
		args = append(args, a...)
	}
	sb.WriteString("APPLY BATCH")
	return sb.String(), args
}

// Validate checks every statement of the batch.
func (b Batch) Validate() error {
	if len(b.Statements) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	for i, s := range b.Statements {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return nil
}

// Micros converts t to a CQL write timestamp.
func Micros(t time.Time) int64 {
	return t.UnixMicro()
}

// UpsertCollection builds the metadata upsert of a collection.
// Numerics are always written (zero when absent upstream); floor is not touched.
func UpsertCollection(c domain.Collection) Statement {
	return Statement{
		Op:    OpUpdate,
		Table: TableCollection,
		Key:   []Column{{ColAddress, c.Address}},
		Set: []Column{
			{ColName, c.Name},
			{ColType, strings.Join(c.Types, ",")},
			{ColTokens, c.Tokens},
			{ColOwners, c.Owners},
			{ColSalesVolume, c.SalesVolume},
			{ColImage, c.Image},
			{ColBannerImage, c.BannerImage},
			{ColDescription, c.Description},
			{ColExternalURL, c.ExternalURL},
		},
	}
}

// SetFloor builds the floor update of a collection.
func SetFloor(f domain.CollectionFloor) Statement {
	return Statement{
		Op:    OpUpdate,
		Table: TableCollection,
		Key:   []Column{{ColAddress, f.Collection}},
		Set:   []Column{{ColFloor, f.Floor}},
	}
}

// InsertRanking builds the insert of one leaderboard row at write time ts.
func InsertRanking(e domain.RankingEntry, ts int64) Statement {
	return Statement{
		Op:    OpInsert,
		Table: TableRanking,
		Key: []Column{
			{ColRank, e.Metric.String()},
			{ColDuration, e.Duration.String()},
			{ColCollection, e.Collection},
		},
		Set: []Column{
			{ColValue, e.Value},
			{ColPosition, e.Position},
		},
		Timestamp: ts,
	}
}

// DeleteRankingPartition builds the delete of one (metric, duration) partition
// covering every write made at or before ts.
func DeleteRankingPartition(m domain.Metric, d domain.Duration, ts int64) Statement {
	return Statement{
		Op:        OpDeletePartition,
		Table:     TableRanking,
		Key:       []Column{{ColRank, m.String()}, {ColDuration, d.String()}},
		Timestamp: ts,
	}
}

// UpdateDataPoint builds the field-level upsert of the kind's columns of p.
// Only non-nil fields are set. It reports false when p carries none.
func UpdateDataPoint(kind domain.SeriesKind, p domain.TimeSeriesPoint) (Statement, bool) {
	var set []Column
	addDec := func(col string, v *decimal.Decimal) {
		if v != nil {
			set = append(set, Column{col, *v})
		}
	}
	addInt := func(col string, v *int64) {
		if v != nil {
			set = append(set, Column{col, *v})
		}
	}

	switch kind {
	case domain.SeriesPrices:
		addDec(ColMinPrice, p.MinPrice)
		addDec(ColMaxPrice, p.MaxPrice)
		addDec(ColAveragePrice, p.AvgPrice)
	case domain.SeriesSales:
		if p.SalesCount != nil {
			set = append(set, Column{ColSalesCount, p.SalesCount.IntPart()})
		}
		addDec(ColSalesVolume, p.SalesVolume)
	case domain.SeriesTokens:
		addInt(ColTokensMinted, p.TokensMinted)
		addInt(ColTokensBurned, p.TokensBurned)
		addInt(ColTotalMinted, p.TotalMinted)
		addInt(ColTotalBurned, p.TotalBurned)
	case domain.SeriesOwners:
		addInt(ColOwnersCount, p.OwnersCount)
	}

	if len(set) == 0 {
		return Statement{}, false
	}
	return Statement{
		Op:    OpUpdate,
		Table: TableDataPoint,
		Key:   []Column{{ColCollection, p.Collection}, {ColTimeStamp, p.Timestamp}},
		Set:   set,
	}, true
}

package cassandra

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"
	"gopkg.in/inf.v0"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/normalization"
	"nft-market-etl/internal/storage"
)

// Config holds cluster connection settings.
type Config struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string // e.g. LOCAL_QUORUM; empty means QUORUM
	Timeout     time.Duration
}

// Session wraps gocql.Session and implements storage.Session.
type Session struct {
	s *gocql.Session
}

var _ storage.Session = (*Session)(nil)

// NewCluster builds the gocql cluster config for cfg.
func NewCluster(cfg Config) (*gocql.ClusterConfig, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("%w: no cassandra hosts", storage.ErrInvalidInput)
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.ProtoVersion = 4
	cluster.Keyspace = cfg.Keyspace
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("parse consistency: %w", err)
		}
		cluster.Consistency = c
	}
	return cluster, nil
}

// NewSession connects to the cluster.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cluster, err := NewCluster(cfg)
	if err != nil {
		return nil, err
	}

	s, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to cassandra: %w", err)
	}
	return &Session{s: s}, nil
}

// Factory returns a storage.Factory for use with storage.NewLazySession.
func Factory(cfg Config) storage.Factory {
	return func(ctx context.Context) (storage.Session, error) {
		return NewSession(ctx, cfg)
	}
}

// Exec runs a single parameterized statement.
func (s *Session) Exec(ctx context.Context, stmt storage.Statement) error {
	if err := stmt.Validate(); err != nil {
		return err
	}
	q, args, err := render(stmt)
	if err != nil {
		return err
	}
	if err := s.s.Query(q, args...).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("exec %s %s: %w", stmt.Op, stmt.Table, err)
	}
	return nil
}

// ExecBatch runs statements as one logged or unlogged batch.
func (s *Session) ExecBatch(ctx context.Context, batch storage.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	typ := gocql.UnloggedBatch
	if batch.Logged {
		typ = gocql.LoggedBatch
	}
	b := s.s.NewBatch(typ).WithContext(ctx)
	for _, stmt := range batch.Statements {
		q, args, err := render(stmt)
		if err != nil {
			return err
		}
		b.Query(q, args...)
	}

	if err := s.s.ExecuteBatch(b); err != nil {
		return fmt.Errorf("exec batch of %d: %w", len(batch.Statements), err)
	}
	return nil
}

// render produces the CQL text and driver-typed bind values.
func render(stmt storage.Statement) (string, []any, error) {
	conv := stmt
	var err error
	if conv.Key, err = bindColumns(stmt.Key); err != nil {
		return "", nil, fmt.Errorf("%s %s: %w", stmt.Op, stmt.Table, err)
	}
	if conv.Set, err = bindColumns(stmt.Set); err != nil {
		return "", nil, fmt.Errorf("%s %s: %w", stmt.Op, stmt.Table, err)
	}
	q, args := conv.CQL()
	return q, args, nil
}

// bindColumns converts domain values to types gocql marshals natively.
func bindColumns(cols []storage.Column) ([]storage.Column, error) {
	out := make([]storage.Column, len(cols))
	for i, c := range cols {
		out[i] = c
		switch v := c.Value.(type) {
		case decimal.Decimal:
			out[i].Value = toInf(v)
		case string:
			if c.Name != storage.ColTimeStamp {
				continue
			}
			t, err := normalization.ParseTimestamp(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			out[i].Value = t
		}
	}
	return out, nil
}

func toInf(d decimal.Decimal) *inf.Dec {
	return inf.NewDecBig(d.Coefficient(), inf.Scale(-d.Exponent()))
}

func fromInf(d *inf.Dec) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(d.UnscaledBig()), -int32(d.Scale()))
}

func fromInfPtr(d *inf.Dec) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := fromInf(d)
	return &v
}

// ListCollectionAddresses returns every stored collection address, sorted.
func (s *Session) ListCollectionAddresses(ctx context.Context) ([]string, error) {
	iter := s.s.Query(`SELECT address FROM collection`).WithContext(ctx).Iter()

	var out []string
	var addr string
	for iter.Scan(&addr) {
		out = append(out, addr)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// GetCollection retrieves one collection. Returns ErrNotFound if absent.
func (s *Session) GetCollection(ctx context.Context, address string) (*domain.Collection, error) {
	var (
		c           = domain.Collection{Address: address}
		types       string
		salesVolume *inf.Dec
		floor       *inf.Dec
	)
	err := s.s.Query(`
		SELECT name, type, tokens, owners, sales_volume, floor,
		       image, banner_image, description, external_url
		FROM collection WHERE address = ?`, address).WithContext(ctx).Scan(
		&c.Name, &types, &c.Tokens, &c.Owners, &salesVolume, &floor,
		&c.Image, &c.BannerImage, &c.Description, &c.ExternalURL,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}

	c.SalesVolume = fromInf(salesVolume)
	c.Floor = fromInfPtr(floor)
	if types != "" {
		c.Types = strings.Split(types, ",")
	}
	return &c, nil
}

// GetRankingPartition returns one (metric, duration) partition ordered by position.
func (s *Session) GetRankingPartition(ctx context.Context, metric domain.Metric, duration domain.Duration) ([]domain.RankingEntry, error) {
	iter := s.s.Query(`
		SELECT collection, value, position FROM ranking
		WHERE rank = ? AND duration = ?`, metric.String(), duration.String()).WithContext(ctx).Iter()

	var (
		out        []domain.RankingEntry
		collection string
		value      *inf.Dec
		position   int
	)
	for iter.Scan(&collection, &value, &position) {
		out = append(out, domain.RankingEntry{
			Metric:     metric,
			Duration:   duration,
			Position:   position,
			Collection: collection,
			Value:      fromInf(value),
			Provider:   metric.Provider(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("get ranking partition: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Collection < out[j].Collection
	})
	return out, nil
}

// GetDataPoints returns the points of a collection in clustering (timestamp ASC) order.
func (s *Session) GetDataPoints(ctx context.Context, collection string) ([]domain.TimeSeriesPoint, error) {
	iter := s.s.Query(`
		SELECT time_stamp, average_price, max_price, min_price, sales_count, sales_volume,
		       tokens_minted, tokens_burned, total_minted, total_burned, owners_count
		FROM data_point WHERE collection = ?`, collection).WithContext(ctx).Iter()

	var out []domain.TimeSeriesPoint
	for {
		var (
			ts                      time.Time
			avg, maxP, minP, volume *inf.Dec
			salesCount              *int64
			p                       = domain.TimeSeriesPoint{Collection: collection}
		)
		if !iter.Scan(&ts, &avg, &maxP, &minP, &salesCount, &volume,
			&p.TokensMinted, &p.TokensBurned, &p.TotalMinted, &p.TotalBurned, &p.OwnersCount) {
			break
		}
		p.Timestamp = ts.UTC().Format(normalization.CanonicalLayout)
		p.AvgPrice = fromInfPtr(avg)
		p.MaxPrice = fromInfPtr(maxP)
		p.MinPrice = fromInfPtr(minP)
		p.SalesVolume = fromInfPtr(volume)
		if salesCount != nil {
			n := decimal.NewFromInt(*salesCount)
			p.SalesCount = &n
		}
		out = append(out, p)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("get data points: %w", err)
	}
	return out, nil
}

// Close closes the underlying gocql session.
func (s *Session) Close() error {
	s.s.Close()
	return nil
}

// Raw returns the underlying gocql session for schema management.
func (s *Session) Raw() *gocql.Session {
	return s.s
}

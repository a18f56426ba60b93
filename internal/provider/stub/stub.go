// Package stub provides programmable in-memory provider clients for tests.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/provider/gallop"
	"nft-market-etl/internal/provider/mnemonic"
)

// ErrNotFound is returned for a collection the stub knows nothing about.
var ErrNotFound = errors.New("not found")

// Board identifies one leaderboard.
type Board struct {
	Metric   domain.Metric
	Duration domain.Duration
}

// Call is one recorded client call.
type Call struct {
	Resource string
	Address  string // empty for leaderboard calls
	Board    Board
	Duration domain.Duration // history window
	Page     int
}

type recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error // "<resource>" or "<resource>/<address>"
}

func (r *recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if err, ok := r.fail[c.Resource+"/"+c.Address]; ok {
		return err
	}
	if err, ok := r.fail[c.Resource]; ok {
		return err
	}
	return nil
}

// Fail makes calls to resource fail with err. An empty address fails
// every call to the resource.
func (r *recorder) Fail(resource, address string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]error)
	}
	key := resource
	if address != "" {
		key += "/" + address
	}
	r.fail[key] = err
}

// Calls returns every call made so far.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the calls made to resource.
func (r *recorder) CallsTo(resource string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Resource == resource {
			out = append(out, c)
		}
	}
	return out
}

// Mnemonic implements mnemonic.Client for testing.
type Mnemonic struct {
	recorder

	Top      map[Board][]mnemonic.TopCollection
	Metadata map[string]*mnemonic.MetadataResponse
	Prices   map[string]*mnemonic.PriceSeries
	Sales    map[string]*mnemonic.SalesSeries
	Tokens   map[string]*mnemonic.TokenSeries
	Owners   map[string]*mnemonic.OwnerSeries
}

var _ mnemonic.Client = (*Mnemonic)(nil)

// NewMnemonic creates an empty stub.
func NewMnemonic() *Mnemonic {
	return &Mnemonic{
		Top:      make(map[Board][]mnemonic.TopCollection),
		Metadata: make(map[string]*mnemonic.MetadataResponse),
		Prices:   make(map[string]*mnemonic.PriceSeries),
		Sales:    make(map[string]*mnemonic.SalesSeries),
		Tokens:   make(map[string]*mnemonic.TokenSeries),
		Owners:   make(map[string]*mnemonic.OwnerSeries),
	}
}

// TopCollections returns the limit rows starting at offset.
func (m *Mnemonic) TopCollections(_ context.Context, metric domain.Metric, duration domain.Duration, limit, offset int) (*mnemonic.TopCollectionsResponse, error) {
	b := Board{metric, duration}
	if err := m.record(Call{Resource: mnemonic.ResourceTop, Board: b, Page: offset}); err != nil {
		return nil, err
	}
	rows := m.Top[b]
	if offset >= len(rows) {
		return &mnemonic.TopCollectionsResponse{}, nil
	}
	end := min(offset+limit, len(rows))
	return &mnemonic.TopCollectionsResponse{Collections: rows[offset:end]}, nil
}

func (m *Mnemonic) CollectionMetadata(_ context.Context, address string) (*mnemonic.MetadataResponse, error) {
	if err := m.record(Call{Resource: mnemonic.ResourceMetadata, Address: address}); err != nil {
		return nil, err
	}
	resp, ok := m.Metadata[address]
	if !ok {
		return nil, fmt.Errorf("metadata %s: %w", address, ErrNotFound)
	}
	return resp, nil
}

func (m *Mnemonic) PriceHistory(_ context.Context, address string, duration domain.Duration, _ mnemonic.GroupBy) (*mnemonic.PriceSeries, error) {
	if err := m.record(Call{Resource: mnemonic.ResourcePrices, Address: address, Duration: duration}); err != nil {
		return nil, err
	}
	if s, ok := m.Prices[address]; ok {
		return s, nil
	}
	return &mnemonic.PriceSeries{}, nil
}

func (m *Mnemonic) SalesHistory(_ context.Context, address string, duration domain.Duration, _ mnemonic.GroupBy) (*mnemonic.SalesSeries, error) {
	if err := m.record(Call{Resource: mnemonic.ResourceSales, Address: address, Duration: duration}); err != nil {
		return nil, err
	}
	if s, ok := m.Sales[address]; ok {
		return s, nil
	}
	return &mnemonic.SalesSeries{}, nil
}

func (m *Mnemonic) TokenHistory(_ context.Context, address string, duration domain.Duration, _ mnemonic.GroupBy) (*mnemonic.TokenSeries, error) {
	if err := m.record(Call{Resource: mnemonic.ResourceSupply, Address: address, Duration: duration}); err != nil {
		return nil, err
	}
	if s, ok := m.Tokens[address]; ok {
		return s, nil
	}
	return &mnemonic.TokenSeries{}, nil
}

func (m *Mnemonic) OwnerHistory(_ context.Context, address string, duration domain.Duration, _ mnemonic.GroupBy) (*mnemonic.OwnerSeries, error) {
	if err := m.record(Call{Resource: mnemonic.ResourceOwners, Address: address, Duration: duration}); err != nil {
		return nil, err
	}
	if s, ok := m.Owners[address]; ok {
		return s, nil
	}
	return &mnemonic.OwnerSeries{}, nil
}

// Gallop implements gallop.Client for testing.
type Gallop struct {
	recorder

	Boards map[Board][]gallop.LeaderboardRow
	Floors map[string][]gallop.MarketplaceFloor

	// ErrorShaped lists addresses whose floor group is answered with a body
	// lacking the response field.
	ErrorShaped map[string]bool

	// FloorPages, when above 1, is reported as total_pages of every floor
	// answer; only the first FloorPageSize collections are returned.
	FloorPages    int
	FloorPageSize int
}

var _ gallop.Client = (*Gallop)(nil)

// NewGallop creates an empty stub.
func NewGallop() *Gallop {
	return &Gallop{
		Boards:      make(map[Board][]gallop.LeaderboardRow),
		Floors:      make(map[string][]gallop.MarketplaceFloor),
		ErrorShaped: make(map[string]bool),
	}
}

// Leaderboard returns one 1-based page of pageSize rows.
func (g *Gallop) Leaderboard(_ context.Context, metric domain.Metric, duration domain.Duration, pageSize, page int) (*gallop.Envelope, error) {
	b := Board{metric, duration}
	if err := g.record(Call{Resource: gallop.ResourceLeaderboard, Board: b, Page: page}); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	rows := g.Boards[b]
	start := min((page-1)*pageSize, len(rows))
	end := min(start+pageSize, len(rows))

	pages := 0
	if pageSize > 0 {
		pages = (len(rows) + pageSize - 1) / pageSize
	}
	return envelope(gallop.LeaderboardPayload{
		TotalItems:  len(rows),
		TotalPages:  pages,
		Page:        page,
		Leaderboard: rows[start:end],
	})
}

// FloorPrices returns the quotes of every requested address.
func (g *Gallop) FloorPrices(_ context.Context, addresses []string) (*gallop.Envelope, error) {
	if err := g.record(Call{Resource: gallop.ResourceFloor, Address: strings.Join(addresses, ",")}); err != nil {
		return nil, err
	}
	payload := gallop.FloorPayload{TotalItems: len(addresses), TotalPages: 1, Page: 1}
	for _, a := range addresses {
		if g.ErrorShaped[a] {
			return &gallop.Envelope{Status: json.RawMessage(`400`), Message: "invalid collection address"}, nil
		}
		payload.Collections = append(payload.Collections, gallop.FloorCollection{
			CollectionAddress: a,
			Marketplaces:      g.Floors[a],
		})
	}
	if g.FloorPages > 1 {
		payload.TotalPages = g.FloorPages
		payload.Collections = payload.Collections[:min(g.FloorPageSize, len(payload.Collections))]
	}
	return envelope(payload)
}

func envelope(payload any) (*gallop.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &gallop.Envelope{Status: json.RawMessage(`200`), Response: raw}, nil
}

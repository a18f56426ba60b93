// Package orchestrator runs the refresh cycle.
// It coordinates: rankings → discovery → per-collection refresh → floor reconciliation
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/fetch"
	"nft-market-etl/internal/logging"
	"nft-market-etl/internal/normalization"
	"nft-market-etl/internal/observability"
	"nft-market-etl/internal/provider/gallop"
	"nft-market-etl/internal/provider/mnemonic"
	"nft-market-etl/internal/storage"
)

// ErrCycleInProgress is returned by RunCycle while another cycle runs.
var ErrCycleInProgress = errors.New("refresh cycle already in progress")

// State is a phase of the refresh cycle.
type State string

const (
	StateIdle                    State = "Idle"
	StateRankingsRefreshing      State = "RankingsRefreshing"
	StateCollectionsDiscovered   State = "CollectionsDiscovered"
	StatePerCollectionRefreshing State = "PerCollectionRefreshing"
	StateFloorPriceReconciling   State = "FloorPriceReconciling"
)

// Cycle outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomePartialFailure = "partial_failure"
)

// Defaults.
const (
	DefaultTopN = 100
)

// Tasks submits write tasks. Every call only enqueues.
type Tasks interface {
	UpsertCollection(ctx context.Context, c domain.Collection) (string, error)
	CreateRankings(ctx context.Context, metric domain.Metric, duration domain.Duration, entries []domain.RankingEntry, fetchedAt time.Time) (string, error)
	DeleteRankings(ctx context.Context, cycleStart time.Time) (string, error)
	UpdateSeries(ctx context.Context, kind domain.SeriesKind, collection string, points []domain.TimeSeriesPoint) (string, error)
	UpdateFloor(ctx context.Context, floors []domain.CollectionFloor) (string, error)
}

// Catalog lists the collections already stored.
type Catalog interface {
	ListCollectionAddresses(ctx context.Context) ([]string, error)
}

// CycleRecorder persists cycle summaries.
type CycleRecorder interface {
	Insert(ctx context.Context, r *storage.CycleRecord) error
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Mnemonic mnemonic.Client
	Gallop   gallop.Client
	Catalog  Catalog
	Tasks    Tasks

	// Optional cycle history
	Recorder CycleRecorder

	TopN           int
	FloorBatchSize int
	ShallowWindow  domain.Duration // history window of known collections; empty skips their history
	DeepWindow     domain.Duration // history window of newly discovered collections
	GroupBy        mnemonic.GroupBy

	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Orchestrator drives the refresh state machine. Only one cycle runs at a time.
type Orchestrator struct {
	mnemonic mnemonic.Client
	gallop   gallop.Client
	catalog  Catalog
	tasks    Tasks
	recorder CycleRecorder

	topN           int
	floorBatchSize int
	shallow        domain.Duration
	deep           domain.Duration
	groupBy        mnemonic.GroupBy

	log logrus.FieldLogger
	now func() time.Time

	running atomic.Bool

	mu    sync.RWMutex
	state State
	last  *CycleResult
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		mnemonic:       opts.Mnemonic,
		gallop:         opts.Gallop,
		catalog:        opts.Catalog,
		tasks:          opts.Tasks,
		recorder:       opts.Recorder,
		topN:           opts.TopN,
		floorBatchSize: opts.FloorBatchSize,
		shallow:        opts.ShallowWindow,
		deep:           opts.DeepWindow,
		groupBy:        opts.GroupBy,
		log:            logging.OrDefault(opts.Logger).WithField("component", "orchestrator"),
		now:            opts.Now,
		state:          StateIdle,
	}
	if o.topN <= 0 {
		o.topN = DefaultTopN
	}
	if o.floorBatchSize <= 0 {
		o.floorBatchSize = gallop.DefaultFloorBatchSize
	}
	if o.deep == "" {
		o.deep = domain.DurationOneYear
	}
	if o.groupBy == "" {
		o.groupBy = mnemonic.GroupByDay
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// CycleResult summarises one refresh cycle.
type CycleResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	States     []State // states entered, in order

	RankingsFetched int // ranking rows fetched across all boards
	RankingTasks    int

	Discovered int // distinct addresses seen in rankings
	Known      int // addresses already stored
	New        int // discovered but not stored

	CollectionsRefreshed int
	SeriesTasks          int

	FloorGroups          int
	FloorGroupsSkipped   int
	FloorGroupsTruncated int // answered with total_pages > 1

	TasksSubmitted int
	Errors         []string
}

// Outcome returns success when the cycle recorded no errors.
func (r *CycleResult) Outcome() string {
	if len(r.Errors) == 0 {
		return OutcomeSuccess
	}
	return OutcomePartialFailure
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastResult returns the most recent finished cycle, or nil.
func (o *Orchestrator) LastResult() *CycleResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// RunCycle runs one refresh cycle and returns to Idle.
// Fetch and submission failures are collected in CycleResult.Errors; an
// error is returned only when the cycle cannot start.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer o.running.Store(false)

	c := &cycle{
		o:   o,
		ctx: ctx,
		res: &CycleResult{ID: uuid.NewString(), StartedAt: o.now().UTC()},
	}
	c.log = o.log.WithField("cycle_id", c.res.ID)

	known, err := o.catalog.ListCollectionAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list known collections: %w", err)
	}
	c.known = make(map[string]bool, len(known))
	for _, a := range known {
		c.known[a] = true
	}

	c.log.Info("refresh cycle started")

	c.refreshRankings()
	c.discover()
	c.refreshCollections()
	c.reconcileFloors()
	o.enter(c.res, StateIdle)

	c.finish()
	return c.res, nil
}

func (o *Orchestrator) enter(res *CycleResult, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
	res.States = append(res.States, s)
}

// cycle holds the working set of one RunCycle call.
type cycle struct {
	o   *Orchestrator
	ctx context.Context
	log logrus.FieldLogger
	res *CycleResult

	known map[string]bool
	names map[string]string // address → first ranking name seen

	newAddrs   []string
	knownAddrs []string
}

func (c *cycle) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.res.Errors = append(c.res.Errors, msg)
	c.log.Warn(msg)
}

func (c *cycle) submitted(id string, err error, what string) bool {
	if err != nil {
		c.fail("submit %s: %v", what, err)
		return false
	}
	c.res.TasksSubmitted++
	c.log.WithField("task_id", id).Debugf("submitted %s", what)
	return true
}

// board is one fetched leaderboard.
type board struct {
	metric    domain.Metric
	duration  domain.Duration
	entries   []domain.RankingEntry
	fetchedAt time.Time
	err       error
}

func (c *cycle) refreshRankings() {
	c.o.enter(c.res, StateRankingsRefreshing)
	c.names = make(map[string]string)

	id, err := c.o.tasks.DeleteRankings(c.ctx, c.res.StartedAt)
	c.submitted(id, err, "delete_rankings")

	var jobs []fetch.Job[board]
	for _, m := range mnemonic.Metrics {
		for _, d := range mnemonic.Durations {
			jobs = append(jobs, c.mnemonicBoard(m, d))
		}
	}
	boards := fetch.RunAll(c.ctx, fetch.MaxConcurrency(1), jobs)

	jobs = jobs[:0]
	for _, m := range gallop.Metrics {
		for _, d := range gallop.Durations {
			jobs = append(jobs, c.gallopBoard(m, d))
		}
	}
	boards = append(boards, fetch.RunAll(c.ctx, fetch.MaxConcurrency(1), jobs)...)

	for _, r := range boards {
		b := r.Value
		if r.Err != nil {
			c.fail("rankings: %v", r.Err)
			continue
		}
		if b.err != nil {
			c.fail("rankings %s/%s: %v", b.metric, b.duration, b.err)
		}
		if len(b.entries) == 0 {
			continue
		}
		c.res.RankingsFetched += len(b.entries)
		for _, e := range b.entries {
			if _, ok := c.names[e.Collection]; !ok {
				c.names[e.Collection] = e.CollectionName
			}
		}

		id, err := c.o.tasks.CreateRankings(c.ctx, b.metric, b.duration, b.entries, c.fetchedAt(b.fetchedAt))
		if c.submitted(id, err, fmt.Sprintf("create_rankings %s/%s", b.metric, b.duration)) {
			c.res.RankingTasks++
		}
	}
}

// fetchedAt keeps ranking inserts strictly after the cycle-start delete.
func (c *cycle) fetchedAt(t time.Time) time.Time {
	if floor := c.res.StartedAt.Add(time.Microsecond); t.Before(floor) {
		return floor
	}
	return t
}

func (c *cycle) mnemonicBoard(m domain.Metric, d domain.Duration) fetch.Job[board] {
	return func(ctx context.Context) (board, error) {
		b := board{metric: m, duration: d}
		rows, err := mnemonic.TopN(ctx, c.o.mnemonic, m, d, c.o.topN)
		b.fetchedAt = c.o.now()
		entries, nErr := normalization.MnemonicRankings(m, d, 0, rows)
		b.entries = entries
		b.err = errors.Join(err, nErr)
		return b, nil
	}
}

func (c *cycle) gallopBoard(m domain.Metric, d domain.Duration) fetch.Job[board] {
	return func(ctx context.Context) (board, error) {
		b := board{metric: m, duration: d}
		pageSize := min(gallop.MaxPageSize, c.o.topN)
		var errs []error

		for page := 1; len(b.entries) < c.o.topN; page++ {
			env, err := c.o.gallop.Leaderboard(ctx, m, d, pageSize, page)
			if err != nil {
				errs = append(errs, err)
				break
			}
			payload, err := normalization.GallopLeaderboard(env)
			if err != nil {
				errs = append(errs, err)
				break
			}
			rows := payload.Leaderboard
			if room := c.o.topN - len(b.entries); len(rows) > room {
				rows = rows[:room]
			}
			entries, err := normalization.GallopRankings(m, d, (page-1)*pageSize, rows)
			if err != nil {
				errs = append(errs, err)
			}
			b.entries = append(b.entries, entries...)

			if len(payload.Leaderboard) < pageSize || (payload.TotalPages > 0 && page >= payload.TotalPages) {
				break
			}
		}
		b.fetchedAt = c.o.now()
		b.err = errors.Join(errs...)
		return b, nil
	}
}

func (c *cycle) discover() {
	c.o.enter(c.res, StateCollectionsDiscovered)

	for addr := range c.names {
		if !c.known[addr] {
			c.newAddrs = append(c.newAddrs, addr)
		}
	}
	for addr := range c.known {
		c.knownAddrs = append(c.knownAddrs, addr)
	}
	sort.Strings(c.newAddrs)
	sort.Strings(c.knownAddrs)

	c.res.Discovered = len(c.names)
	c.res.Known = len(c.knownAddrs)
	c.res.New = len(c.newAddrs)
	c.log.WithFields(logrus.Fields{
		"discovered": c.res.Discovered,
		"known":      c.res.Known,
		"new":        c.res.New,
	}).Info("collections discovered")
}

// target is one collection to refresh and the history window to fetch.
type target struct {
	address string
	window  domain.Duration // empty skips history
	isNew   bool
}

func (c *cycle) refreshCollections() {
	c.o.enter(c.res, StatePerCollectionRefreshing)

	targets := make([]target, 0, len(c.knownAddrs)+len(c.newAddrs))
	for _, a := range c.knownAddrs {
		targets = append(targets, target{address: a, window: c.o.shallow})
	}
	for _, a := range c.newAddrs {
		targets = append(targets, target{address: a, window: c.o.deep, isNew: true})
	}

	jobs := make([]fetch.Job[refreshed], len(targets))
	for i, t := range targets {
		jobs[i] = func(ctx context.Context) (refreshed, error) {
			return c.fetchCollection(ctx, t), nil
		}
	}

	var knownDone, newDone int
	for i, r := range fetch.RunAll(c.ctx, fetch.MaxConcurrency(1), jobs) {
		if r.Err != nil {
			c.fail("refresh %s: %v", targets[i].address, r.Err)
			continue
		}
		c.submitCollection(targets[i], r.Value)
		if targets[i].isNew {
			newDone++
		} else {
			knownDone++
		}
	}
	c.res.CollectionsRefreshed = knownDone + newDone
	observability.RecordCollectionsRefreshed("known", knownDone)
	observability.RecordCollectionsRefreshed("new", newDone)
}

// refreshed is everything fetched for one collection.
type refreshed struct {
	collection *domain.Collection
	series     map[domain.SeriesKind][]domain.TimeSeriesPoint
	errs       []error
}

// fetched is the outcome of one of the five per-collection calls.
type fetched struct {
	collection *domain.Collection
	kind       domain.SeriesKind
	points     []domain.TimeSeriesPoint
}

func (c *cycle) fetchCollection(ctx context.Context, t target) refreshed {
	addr := t.address
	jobs := []fetch.Job[fetched]{
		func(ctx context.Context) (fetched, error) {
			resp, err := c.o.mnemonic.CollectionMetadata(ctx, addr)
			if err != nil {
				return fetched{}, err
			}
			col, err := normalization.MnemonicCollection(addr, resp)
			if err != nil {
				return fetched{}, err
			}
			return fetched{collection: &col}, nil
		},
	}
	if t.window != "" {
		jobs = append(jobs, c.seriesJobs(addr, t.window)...)
	}

	out := refreshed{series: make(map[domain.SeriesKind][]domain.TimeSeriesPoint)}
	for i, r := range fetch.RunAll(ctx, fetch.MaxThroughput(), jobs) {
		v := r.Value
		if r.Err != nil {
			what := "metadata"
			if i > 0 {
				what = string(domain.AllSeriesKinds[i-1])
			}
			out.errs = append(out.errs, fmt.Errorf("%s %s: %w", what, addr, r.Err))
		}
		if v.collection != nil {
			out.collection = v.collection
		}
		if len(v.points) > 0 {
			out.series[v.kind] = v.points
		}
	}
	return out
}

// seriesJobs returns one job per series kind, in AllSeriesKinds order.
// Normalization errors drop the bad points and are reported with the rest.
func (c *cycle) seriesJobs(addr string, window domain.Duration) []fetch.Job[fetched] {
	g := c.o.groupBy
	return []fetch.Job[fetched]{
		func(ctx context.Context) (fetched, error) {
			s, err := c.o.mnemonic.PriceHistory(ctx, addr, window, g)
			if err != nil {
				return fetched{}, err
			}
			points, err := normalization.MnemonicPricePoints(addr, s)
			return fetched{kind: domain.SeriesPrices, points: points}, err
		},
		func(ctx context.Context) (fetched, error) {
			s, err := c.o.mnemonic.SalesHistory(ctx, addr, window, g)
			if err != nil {
				return fetched{}, err
			}
			points, err := normalization.MnemonicSalesPoints(addr, s)
			return fetched{kind: domain.SeriesSales, points: points}, err
		},
		func(ctx context.Context) (fetched, error) {
			s, err := c.o.mnemonic.TokenHistory(ctx, addr, window, g)
			if err != nil {
				return fetched{}, err
			}
			points, err := normalization.MnemonicTokenPoints(addr, s)
			return fetched{kind: domain.SeriesTokens, points: points}, err
		},
		func(ctx context.Context) (fetched, error) {
			s, err := c.o.mnemonic.OwnerHistory(ctx, addr, window, g)
			if err != nil {
				return fetched{}, err
			}
			points, err := normalization.MnemonicOwnerPoints(addr, s)
			return fetched{kind: domain.SeriesOwners, points: points}, err
		},
	}
}

func (c *cycle) submitCollection(t target, r refreshed) {
	for _, err := range r.errs {
		c.fail("%v", err)
	}

	switch {
	case r.collection != nil:
		id, err := c.o.tasks.UpsertCollection(c.ctx, *r.collection)
		c.submitted(id, err, "upsert_collection "+t.address)
	case t.isNew:
		// Ranking rows reference the address; give it a row.
		fallback := domain.Collection{Address: t.address, Name: c.names[t.address]}
		id, err := c.o.tasks.UpsertCollection(c.ctx, fallback)
		c.submitted(id, err, "fallback upsert_collection "+t.address)
	}

	for _, kind := range domain.AllSeriesKinds {
		points := r.series[kind]
		if len(points) == 0 {
			continue
		}
		id, err := c.o.tasks.UpdateSeries(c.ctx, kind, t.address, points)
		if c.submitted(id, err, fmt.Sprintf("update_%s %s", kind, t.address)) {
			c.res.SeriesTasks++
		}
	}
}

func (c *cycle) reconcileFloors() {
	c.o.enter(c.res, StateFloorPriceReconciling)

	all := make([]string, 0, len(c.knownAddrs)+len(c.newAddrs))
	all = append(all, c.knownAddrs...)
	all = append(all, c.newAddrs...)
	sort.Strings(all)

	var groups [][]string
	for i := 0; i < len(all); i += c.o.floorBatchSize {
		groups = append(groups, all[i:min(i+c.o.floorBatchSize, len(all))])
	}
	c.res.FloorGroups = len(groups)

	jobs := make([]fetch.Job[*gallop.FloorPayload], len(groups))
	for i, g := range groups {
		jobs[i] = func(ctx context.Context) (*gallop.FloorPayload, error) {
			env, err := c.o.gallop.FloorPrices(ctx, g)
			if err != nil {
				return nil, err
			}
			return normalization.GallopFloorPayload(env)
		}
	}

	for i, r := range fetch.RunAll(c.ctx, fetch.MaxThroughput(), jobs) {
		var nErr *normalization.NormalizationError
		switch {
		case errors.As(r.Err, &nErr):
			c.res.FloorGroupsSkipped++
			observability.RecordFloorGroupSkipped()
			c.log.WithError(r.Err).WithField("group", i).Warn("floor group skipped")
			continue
		case r.Err != nil:
			c.res.FloorGroupsSkipped++
			observability.RecordFloorGroupSkipped()
			c.fail("floor group %d: %v", i, r.Err)
			continue
		}

		if r.Value.TotalPages > 1 {
			c.res.FloorGroupsTruncated++
			c.log.WithFields(logrus.Fields{
				"group":       i,
				"total_pages": r.Value.TotalPages,
				"total_items": r.Value.TotalItems,
				"returned":    len(r.Value.Collections),
			}).Warn("floor group answered across several pages; later pages not fetched")
		}

		floors := normalization.GallopFloors(r.Value)
		if len(floors) == 0 {
			continue
		}
		id, err := c.o.tasks.UpdateFloor(c.ctx, floors)
		c.submitted(id, err, fmt.Sprintf("update_floor group %d", i))
	}
}

func (c *cycle) finish() {
	res := c.res
	res.FinishedAt = c.o.now().UTC()
	outcome := res.Outcome()
	observability.RecordCycle(outcome, res.FinishedAt.Sub(res.StartedAt).Seconds(), res.FinishedAt.Unix())

	if c.o.recorder != nil {
		rec := &storage.CycleRecord{
			ID:                 res.ID,
			StartedAt:          res.StartedAt,
			FinishedAt:         res.FinishedAt,
			Outcome:            outcome,
			Discovered:         res.Discovered,
			Known:              res.Known,
			New:                res.New,
			TasksSubmitted:     res.TasksSubmitted,
			FloorGroupsSkipped: res.FloorGroupsSkipped,
			Errors:             res.Errors,
		}
		// Recorded even when ctx is cancelled.
		if err := c.o.recorder.Insert(context.WithoutCancel(c.ctx), rec); err != nil {
			c.log.WithError(err).Error("record cycle")
		}
	}

	c.o.mu.Lock()
	c.o.last = res
	c.o.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"outcome":         outcome,
		"tasks_submitted": res.TasksSubmitted,
		"errors":          len(res.Errors),
		"duration_ms":     res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}).Info("refresh cycle finished")
}

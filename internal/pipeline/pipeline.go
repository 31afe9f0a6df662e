package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"

	"evetrade-sync/internal/normalize"
	"evetrade-sync/internal/record"
	"evetrade-sync/internal/sink"
	"evetrade-sync/pkg/esi"
	"evetrade-sync/pkg/universe"
)

// Options tune one pipeline instance.
type Options struct {
	RegionConcurrency    int
	StructureConcurrency int
	IncludeStructures    bool
}

// Pipeline owns one recurring sync pass: regions and player structures in,
// reconciled cache and index writes out.
type Pipeline struct {
	client  *esi.Client
	catalog *universe.Catalog
	writer  *Writer
	cache   sink.Cache
	index   sink.Index
	opts    Options
}

func New(client *esi.Client, catalog *universe.Catalog, cache sink.Cache, index sink.Index, opts Options) *Pipeline {
	if opts.RegionConcurrency <= 0 {
		opts.RegionConcurrency = 8
	}
	if opts.StructureConcurrency <= 0 {
		opts.StructureConcurrency = 4
	}
	return &Pipeline{
		client:  client,
		catalog: catalog,
		writer:  NewWriter(cache, index),
		cache:   cache,
		index:   index,
		opts:    opts,
	}
}

// RunSummary is what one completed pass reports.
type RunSummary struct {
	Regions      int
	Structures   int
	PreviousKeys int
	Stats        normalize.Stats
	Upserts      int
	Deletes      int
	Report       *WriteReport
	Elapsed      time.Duration
}

// snapshot is the merged output of one fetch fan-out.
type snapshot struct {
	state record.State
	stats normalize.Stats
}

// Run executes one full sync pass. Any fetch failure aborts the pass before
// a single sink write: applying a feed that is missing a whole region or
// structure would delete every record that feed previously produced.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	logger := logx.WithContext(ctx)

	if err := p.index.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}

	previous, err := p.cache.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("read previous keys: %w", err)
	}

	regions, err := p.catalog.RegionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load region list: %w", err)
	}
	logger.Infof("sync pass starting: %d regions, %d previous keys", len(regions), len(previous))

	state := record.State{}
	var stats normalize.Stats

	regional, err := p.fetchRegions(ctx, regions)
	if err != nil {
		return nil, err
	}
	for _, rec := range regional.state {
		state.Add(rec)
	}
	stats.Merge(regional.stats)

	structureCount := 0
	if p.opts.IncludeStructures && p.client.Authed() {
		structures, err := p.catalog.Structures(ctx)
		if err != nil {
			return nil, fmt.Errorf("load structure list: %w", err)
		}
		structureCount = len(structures)
		authed, err := p.fetchStructures(ctx, structures)
		if err != nil {
			return nil, err
		}
		for _, rec := range authed.state {
			state.Add(rec)
		}
		stats.Merge(authed.stats)
	}

	cs, err := Reconcile(previous, state)
	if err != nil {
		return nil, err
	}

	report, applyErr := p.writer.Apply(ctx, cs)

	summary := &RunSummary{
		Regions:      len(regions),
		Structures:   structureCount,
		PreviousKeys: len(previous),
		Stats:        stats,
		Upserts:      len(cs.Upserts),
		Deletes:      len(cs.Deletes),
		Report:       report,
		Elapsed:      time.Since(start),
	}
	p.logSummary(logger, summary, applyErr)
	return summary, applyErr
}

func (p *Pipeline) fetchRegions(ctx context.Context, regions []int64) (snapshot, error) {
	return mr.MapReduce(func(source chan<- int64) {
		for _, regionID := range regions {
			source <- regionID
		}
	}, func(regionID int64, writer mr.Writer[snapshot], cancel func(error)) {
		orders, err := p.client.FetchRegionOrders(ctx, regionID)
		if err != nil {
			cancel(fmt.Errorf("region %d: %w", regionID, err))
			return
		}
		records, stats := normalize.RegionOrders(regionID, orders)
		batch := snapshot{state: record.State{}, stats: stats}
		batch.state.Merge(records)
		writer.Write(batch)
	}, mergeSnapshots, mr.WithContext(ctx), mr.WithWorkers(p.opts.RegionConcurrency))
}

func (p *Pipeline) fetchStructures(ctx context.Context, structures map[int64]universe.Structure) (snapshot, error) {
	ids := make([]int64, 0, len(structures))
	for id := range structures {
		ids = append(ids, id)
	}
	return mr.MapReduce(func(source chan<- int64) {
		for _, structureID := range ids {
			source <- structureID
		}
	}, func(structureID int64, writer mr.Writer[snapshot], cancel func(error)) {
		orders, err := p.client.FetchStructureOrders(ctx, structureID)
		if err != nil {
			cancel(fmt.Errorf("structure %d: %w", structureID, err))
			return
		}
		records, stats := normalize.StructureOrders(structures, orders)
		batch := snapshot{state: record.State{}, stats: stats}
		batch.state.Merge(records)
		writer.Write(batch)
	}, mergeSnapshots, mr.WithContext(ctx), mr.WithWorkers(p.opts.StructureConcurrency))
}

func mergeSnapshots(pipe <-chan snapshot, writer mr.Writer[snapshot], cancel func(error)) {
	merged := snapshot{state: record.State{}}
	for batch := range pipe {
		for _, rec := range batch.state {
			merged.state.Add(rec)
		}
		merged.stats.Merge(batch.stats)
	}
	writer.Write(merged)
}

func (p *Pipeline) logSummary(logger logx.Logger, s *RunSummary, applyErr error) {
	logger.Infof("sync pass done in %s: seen=%d kept=%d dropped=%d upserts=%d deletes=%d cache_failed=%d inconsistent=%d",
		s.Elapsed.Round(time.Millisecond), s.Stats.Seen, s.Stats.Kept, s.Stats.DroppedTotal(),
		s.Upserts, s.Deletes, len(s.Report.CacheFailed), len(s.Report.Inconsistent))
	for reason, n := range s.Stats.Dropped {
		logger.Infof("dropped %d orders: %s", n, reason)
	}
	if applyErr != nil {
		logger.Errorf("sink apply: %v", applyErr)
	}
}

package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/policy-crawler/internal/progress"
)

var tracer = otel.Tracer("github.com/JakeFAU/policy-crawler/internal/crawler")

// StopReason records why a source's page loop ended.
type StopReason string

// Source stop reasons.
const (
	StopEmpty     StopReason = "empty"
	StopDuplicate StopReason = "duplicate"
	StopMaxPages  StopReason = "max_pages"
	StopRequested StopReason = "stop_requested"
	StopFailure   StopReason = "failure"
)

// Dependencies are the collaborators wired into an Orchestrator.
type Dependencies struct {
	Fetcher Fetcher
	Listing ListingParser
	Detail  DetailParser
	Sink    RecordSink
	Emitter progress.Emitter
	Clock   Clock
	IDs     IDGenerator
	Logger  *zap.Logger
}

// Orchestrator drives the per-source page loop, merges sources with
// identity-based dedup, and enriches merged records from their detail pages.
type Orchestrator struct {
	cfg     Config
	fetcher Fetcher
	listing ListingParser
	detail  DetailParser
	sink    RecordSink
	emitter progress.Emitter
	clock   Clock
	ids     IDGenerator
	pauser  pauseController
	logger  *zap.Logger
	sources map[string]DataSource

	stop atomic.Bool
}

// SourceSummary reports the outcome of one source's page loop.
type SourceSummary struct {
	Source  string
	Pages   int
	Records int
	Merged  int
	Reason  StopReason
}

// RunSummary reports the outcome of a full run.
type RunSummary struct {
	RunID     uuid.UUID
	Sources   []SourceSummary
	Records   []PolicyRecord
	Total     int
	Completed int
	Failed    int
	Stopped   bool
	Duration  time.Duration
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}
	if deps.Fetcher == nil || deps.Listing == nil || deps.Detail == nil {
		return nil, errors.New("fetcher, listing parser, and detail parser are required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.IDs == nil {
		deps.IDs = randomIDs{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	sources := make(map[string]DataSource, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources[src.Name] = src
	}
	return &Orchestrator{
		cfg:     cfg,
		fetcher: deps.Fetcher,
		listing: deps.Listing,
		detail:  deps.Detail,
		sink:    deps.Sink,
		emitter: deps.Emitter,
		clock:   deps.Clock,
		ids:     deps.IDs,
		pauser:  &timerPauseController{},
		logger:  deps.Logger.Named("orchestrator"),
		sources: sources,
	}, nil
}

// Stop requests cooperative cancellation of the current run. It takes effect
// at the next page fetch or record enrichment; in-flight requests complete.
// Run clears the flag when it starts.
func (o *Orchestrator) Stop() {
	o.stop.Store(true)
}

func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	return o.stop.Load() || ctx.Err() != nil
}

// Run searches every enabled source, merges the results, and enriches each
// merged record. Only cancellation shortens a run; per-page and per-record
// failures are reported through the progress stream.
func (o *Orchestrator) Run(ctx context.Context) (RunSummary, error) {
	o.stop.Store(false)
	runID, err := o.ids.NewRawID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("allocate run id: %w", err)
	}
	ctx, span := tracer.Start(ctx, "crawl.run", trace.WithAttributes(
		attribute.String("run_id", runID.String()),
		attribute.Int("sources", len(o.cfg.EnabledSources())),
	))
	defer span.End()

	run := &runState{id: progress.UUIDToBytes(runID), global: newIdentitySet()}
	start := o.clock.Now()
	o.emit(run, progress.Event{Stage: progress.StageRunStart})
	o.logger.Info("crawl run started",
		zap.String("run_id", runID.String()),
		zap.Int("sources", len(o.cfg.EnabledSources())),
		zap.Strings("keywords", o.cfg.Keywords),
	)

	summary := RunSummary{RunID: runID}
	summary.Sources = o.search(ctx, run)
	records := run.merged
	if o.cfg.MaxRecords > 0 && len(records) > o.cfg.MaxRecords {
		records = records[:o.cfg.MaxRecords]
	}
	o.enrich(ctx, run, records)

	summary.Records = records
	summary.Total = run.total
	summary.Completed = run.completed
	summary.Failed = run.failed
	summary.Stopped = o.stopRequested(ctx)
	summary.Duration = o.clock.Now().Sub(start)

	done := progress.Event{
		Stage:     progress.StageRunDone,
		Records:   len(records),
		Completed: run.completed,
		Failed:    run.failed,
		Dur:       max(summary.Duration, 0),
	}
	if summary.Stopped {
		done.Reason = string(StopRequested)
	}
	o.emit(run, done)
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("completed", run.completed),
		attribute.Int("failed", run.failed),
		attribute.Bool("stopped", summary.Stopped),
	)
	o.logger.Info("crawl run finished",
		zap.String("run_id", runID.String()),
		zap.Int("records", len(records)),
		zap.Int("completed", run.completed),
		zap.Int("failed", run.failed),
		zap.Bool("stopped", summary.Stopped),
	)
	if summary.Stopped {
		return summary, ErrStopped
	}
	return summary, nil
}

// runState is owned by the orchestrator for one run. merged and global are
// only touched from the goroutine calling Run.
type runState struct {
	id        [16]byte
	global    *identitySet
	merged    []PolicyRecord
	total     int
	completed int
	failed    int
}

// merge appends records not yet seen across sources, in order.
func (r *runState) merge(records []PolicyRecord) int {
	added := 0
	for _, rec := range records {
		if r.global.MarkIfNew(rec.IdentityKey) {
			r.merged = append(r.merged, rec)
			added++
		}
	}
	return added
}

// sourceState is owned by the worker crawling one source.
type sourceState struct {
	source           DataSource
	pages            int
	consecutiveEmpty int
	seen             *identitySet
	records          []PolicyRecord
	lastParsed       int
	reason           StopReason
}

func newSourceState(src DataSource) *sourceState {
	return &sourceState{source: src, seen: newIdentitySet()}
}

// search crawls every enabled source and merges them in configured order.
func (o *Orchestrator) search(ctx context.Context, run *runState) []SourceSummary {
	sources := o.cfg.EnabledSources()
	summaries := make([]SourceSummary, 0, len(sources))
	if o.cfg.SourceConcurrency <= 1 || len(sources) <= 1 {
		for _, src := range sources {
			summaries = append(summaries, o.finishSource(run, o.crawlSource(ctx, run, src)))
		}
		return summaries
	}

	// Workers own their sourceState; merging happens here, in source order.
	states := make([]*sourceState, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.SourceConcurrency)
	for i, src := range sources {
		g.Go(func() error {
			states[i] = o.crawlSource(gctx, run, src)
			return nil
		})
	}
	_ = g.Wait()
	for _, st := range states {
		summaries = append(summaries, o.finishSource(run, st))
	}
	return summaries
}

// finishSource merges a finished source into the run and reports it.
func (o *Orchestrator) finishSource(run *runState, st *sourceState) SourceSummary {
	added := run.merge(st.records)
	o.emit(run, progress.Event{
		Stage:      progress.StageSourceDone,
		Source:     st.source.Name,
		Page:       st.pages,
		Records:    len(st.records),
		NewRecords: added,
		Reason:     string(st.reason),
	})
	o.logger.Info("source finished",
		zap.String("source", st.source.Name),
		zap.Int("pages", st.pages),
		zap.Int("records", len(st.records)),
		zap.Int("merged", added),
		zap.String("reason", string(st.reason)),
	)
	return SourceSummary{
		Source:  st.source.Name,
		Pages:   st.pages,
		Records: len(st.records),
		Merged:  added,
		Reason:  st.reason,
	}
}

// crawlSource runs the page loop for one source until a stop condition fires.
func (o *Orchestrator) crawlSource(ctx context.Context, run *runState, src DataSource) *sourceState {
	st := newSourceState(src)
	st.reason = StopMaxPages
	for page := 1; page <= o.cfg.MaxPages; page++ {
		if o.stopRequested(ctx) {
			st.reason = StopRequested
			return st
		}
		st.pages = page
		reason, stop, err := o.crawlPage(ctx, run, st, page)
		if err != nil {
			o.reportError(run, src.Name, page, err)
			st.reason = StopFailure
			return st
		}
		if stop {
			st.reason = reason
			return st
		}
		if page < o.cfg.MaxPages && st.lastParsed > 0 {
			o.pauser.Pause(ctx, o.cfg.RequestDelay)
		}
	}
	return st
}

// crawlPage fetches, parses, and accumulates one listing page. A panic while
// handling the page is converted to an error that ends the source.
func (o *Orchestrator) crawlPage(
	ctx context.Context,
	run *runState,
	st *sourceState,
	page int,
) (reason StopReason, stop bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d of %s: %v", page, st.source.Name, rec)
		}
	}()

	result := o.fetcher.Fetch(ctx, o.searchRequest(st.source, page))
	var records []PolicyRecord
	if result.Failed() {
		if o.stopRequested(ctx) {
			return StopRequested, true, nil
		}
		o.reportError(run, st.source.Name, page, result.Err)
	} else {
		records = o.listing.ParseListing(result, ListingOptions{
			MaxRecords:   o.cfg.perPageFor(st.source),
			BaseURL:      st.source.BaseURL,
			DefaultLevel: o.cfg.DefaultLevel,
			Category:     o.cfg.ListingCategory,
			SourceRef:    st.source.Name,
			CrawlTime:    o.clock.Now(),
		})
	}

	st.lastParsed = len(records)
	added := 0
	for _, rec := range records {
		if !st.seen.MarkIfNew(rec.IdentityKey) {
			continue
		}
		st.records = append(st.records, rec)
		added++
		o.emit(run, progress.Event{
			Stage:  progress.StageRecordFound,
			Source: st.source.Name,
			Page:   page,
			URL:    rec.URL,
			Title:  rec.Title,
		})
	}

	o.emit(run, progress.Event{
		Stage:      progress.StagePageDone,
		Source:     st.source.Name,
		Page:       page,
		Records:    len(records),
		NewRecords: added,
	})

	if added > 0 {
		st.consecutiveEmpty = 0
		return "", false, nil
	}
	st.consecutiveEmpty++
	o.logger.Debug("page yielded no new records",
		zap.String("source", st.source.Name),
		zap.Int("page", page),
		zap.Int("parsed", len(records)),
		zap.Int("consecutive_empty", st.consecutiveEmpty),
	)
	if st.consecutiveEmpty < o.cfg.MaxEmptyPages {
		return "", false, nil
	}
	if len(records) > 0 {
		return StopDuplicate, true, nil
	}
	return StopEmpty, true, nil
}

// searchRequest builds the listing query for one page of src.
func (o *Orchestrator) searchRequest(src DataSource, page int) FetchRequest {
	params := url.Values{}
	params.Set("channelid", src.ChannelID)
	params.Set("searchword", strings.Join(o.cfg.Keywords, " "))
	params.Set("page", strconv.Itoa(page))
	params.Set("perpage", strconv.Itoa(o.cfg.perPageFor(src)))
	params.Set("searchtype", "title")
	params.Set("orderby", "RELEVANCE")
	if o.cfg.StartDate != "" {
		params.Set("starttime", o.cfg.StartDate)
	}
	if o.cfg.EndDate != "" {
		params.Set("endtime", o.cfg.EndDate)
	}
	return FetchRequest{URL: src.SearchURL, Params: params, Referer: src.BaseURL}
}

func (o *Orchestrator) reportError(run *runState, source string, page int, err error) {
	if err == nil {
		err = ErrTransport
	}
	o.logger.Warn("crawl error",
		zap.String("source", source),
		zap.Int("page", page),
		zap.Error(err),
	)
	o.emit(run, progress.Event{
		Stage:  progress.StageError,
		Source: source,
		Page:   page,
		Note:   err.Error(),
	})
}

func (o *Orchestrator) emit(run *runState, evt progress.Event) {
	evt.RunID = run.id
	if evt.TS.IsZero() {
		evt.TS = o.clock.Now()
	}
	o.emitter.Emit(evt)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

type randomIDs struct{}

func (randomIDs) NewRawID() (uuid.UUID, error) { return uuid.NewV7() }

// Package orchestrator runs one harvest: concurrent source listing followed by
// canonicalization, reconciliation, filtering and output.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crag-crawler/internal/canon"
	"github.com/JakeFAU/crag-crawler/internal/clock/system"
	"github.com/JakeFAU/crag-crawler/internal/config"
	"github.com/JakeFAU/crag-crawler/internal/fetch"
	"github.com/JakeFAU/crag-crawler/internal/filter"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/hash/sha256"
	"github.com/JakeFAU/crag-crawler/internal/id/uuid"
	"github.com/JakeFAU/crag-crawler/internal/logging"
	"github.com/JakeFAU/crag-crawler/internal/metrics"
	"github.com/JakeFAU/crag-crawler/internal/output"
	"github.com/JakeFAU/crag-crawler/internal/reconcile"
	"github.com/JakeFAU/crag-crawler/internal/region"
	"github.com/JakeFAU/crag-crawler/internal/sources"
)

// Output kinds reported in the run summary.
const (
	KindNDJSON  = "ndjson"
	KindGeoJSON = "geojson"
	KindRegions = "regions"
)

// Record stages reported to metrics.
const (
	stageRaw    = "raw"
	stageUnique = "unique"
	stagePassed = "passed"
)

// Deps are the collaborators a run needs. Nil fields get defaults, except
// BlobStore and Publisher which disable mirroring and notification when nil.
type Deps struct {
	Registry  *sources.Registry
	Fetcher   harvest.Fetcher
	BlobStore harvest.BlobStore
	Publisher harvest.Publisher
	Clock     harvest.Clock
	IDs       harvest.IDGenerator
	Hasher    harvest.Hasher
	Logger    *zap.Logger
}

// Orchestrator executes harvest runs for one configuration.
type Orchestrator struct {
	cfg        config.Config
	deps       Deps
	canon      *canon.Canonicalizer
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
}

type sourceResult struct {
	summary harvest.SourceSummary
	regions []harvest.Region
	crags   []harvest.Crag
	err     error
}

// New builds an Orchestrator. Configuration is validated by Run, not here.
func New(cfg config.Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = sources.Default()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = fetch.New(cfg.FetchConfig(), deps.Logger.Named("fetch"))
	}
	return &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		canon:      canon.New(cfg.Canonical),
		reconciler: reconcile.New(cfg.Merge),
		logger:     deps.Logger.Named("orchestrator"),
	}
}

// Run performs one harvest and always returns the summary built so far.
// Configuration problems are reported before any fetch. Source failures are
// recorded in the summary and do not fail the run unless run.fail_fast is set.
// Write failures abort after reconciliation.
func (o *Orchestrator) Run(ctx context.Context) (harvest.RunSummary, error) {
	summary := harvest.RunSummary{StartedAt: o.deps.Clock.Now()}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return summary, fmt.Errorf("generate run id: %w", err)
	}
	summary.RunID = runID
	log := logging.ForRun(o.logger, runID)

	if err := o.cfg.Validate(); err != nil {
		return summary, err
	}
	enabled := o.cfg.EnabledSources()
	scrapers := make([]harvest.Scraper, len(enabled))
	for i, src := range enabled {
		scraper, err := o.deps.Registry.Build(
			sources.Config{Name: src.Name, BaseURL: src.BaseURL, Options: src.Options},
			sources.Deps{Fetcher: o.deps.Fetcher, Clock: o.deps.Clock, Logger: logging.ForSource(log, src.Name)},
		)
		if err != nil {
			return summary, err
		}
		scrapers[i] = scraper
	}

	log.Info("run started", zap.Int("sources", len(scrapers)), zap.Duration("deadline", o.cfg.Run.Deadline))

	results, abortErr := o.harvestAll(ctx, enabled, scrapers, log)
	summary.Sources = make([]harvest.SourceSummary, len(results))
	var rawCrags []harvest.Crag
	var rawRegions []harvest.Region
	for i, res := range results {
		summary.Sources[i] = res.summary
		if res.err != nil {
			continue
		}
		rawCrags = append(rawCrags, res.crags...)
		rawRegions = append(rawRegions, res.regions...)
	}
	if abortErr != nil {
		return o.finish(ctx, summary, log, abortErr)
	}
	if err := ctx.Err(); err != nil {
		return o.finish(ctx, summary, log, fmt.Errorf("run canceled: %w", err))
	}

	summary.RawCrags = len(rawCrags)
	metrics.AddRecords(stageRaw, len(rawCrags))

	unique := o.reconciler.Reconcile(o.canon.Apply(rawCrags))
	summary.UniqueCrags = len(unique)
	metrics.AddRecords(stageUnique, len(unique))

	regions, dropped := region.Validate(rawRegions)
	summary.Regions = len(regions)
	summary.DroppedRegions = len(dropped)
	for _, d := range dropped {
		log.Warn("region dropped",
			zap.String("source", d.Region.SourceName),
			zap.String("region_id", d.Region.ID),
			zap.String("reason", d.Reason),
		)
	}

	annotated := filter.Apply(unique, o.cfg.Filters)
	summary.PassedFilters = filter.CountPassed(annotated)
	metrics.AddRecords(stagePassed, summary.PassedFilters)

	outputs, err := o.writeOutputs(annotated, regions)
	summary.Outputs = outputs
	if err != nil {
		return o.finish(ctx, summary, log, err)
	}
	o.mirror(ctx, runID, summary.Outputs, log)

	return o.finish(ctx, summary, log, nil)
}

// harvestAll fans out over the sources. Results are indexed like enabled so the
// fan-in needs no lock. The returned error is non-nil only for fail_fast aborts.
func (o *Orchestrator) harvestAll(
	ctx context.Context,
	enabled []config.SourceConfig,
	scrapers []harvest.Scraper,
	log *zap.Logger,
) ([]sourceResult, error) {
	runCtx := ctx
	if o.cfg.Run.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Run.Deadline)
		defer cancel()
	}

	results := make([]sourceResult, len(scrapers))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.Run.Workers)
	for i, scraper := range scrapers {
		name := enabled[i].Name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = o.skipped(gctx, name, err)
				return nil
			}
			results[i] = o.harvestSource(gctx, name, scraper, logging.ForSource(log, name))
			if o.cfg.Run.FailFast && results[i].err != nil {
				return results[i].err
			}
			return nil
		})
	}
	return results, g.Wait()
}

func (o *Orchestrator) harvestSource(ctx context.Context, name string, scraper harvest.Scraper, log *zap.Logger) sourceResult {
	metrics.IncActiveSources()
	defer metrics.DecActiveSources()

	start := o.deps.Clock.Now()
	res := sourceResult{summary: harvest.SourceSummary{Name: name}}
	log.Info("source started")

	err := func() error {
		for r, err := range scraper.ListRegions(ctx, o.cfg.Scope) {
			if err != nil {
				if harvest.IsParseError(err) {
					res.summary.ParseErrors++
					log.Warn("skipping malformed region", zap.Error(err))
					continue
				}
				return err
			}
			res.regions = append(res.regions, r)
		}
		for c, err := range scraper.ListCrags(ctx, o.cfg.Scope) {
			if err != nil {
				if harvest.IsParseError(err) {
					res.summary.ParseErrors++
					log.Warn("skipping malformed crag", zap.Error(err))
					continue
				}
				return err
			}
			res.crags = append(res.crags, c)
		}
		return nil
	}()

	res.summary.Duration = o.deps.Clock.Now().Sub(start).String()
	if err != nil {
		serr := &harvest.SourceError{Source: name, Timeout: timedOut(ctx), Err: err}
		res.err = serr
		res.summary.Status = harvest.SourceFailed
		if serr.Timeout {
			res.summary.Status = harvest.SourceTimedOut
		}
		res.summary.Error = serr.Error()
		res.regions, res.crags = nil, nil
		log.Error("source failed", zap.Error(res.err), zap.Int("parse_errors", res.summary.ParseErrors))
	} else {
		res.summary.Status = harvest.SourceSucceeded
		res.summary.Regions = len(res.regions)
		res.summary.Crags = len(res.crags)
		log.Info("source finished",
			zap.Int("regions", res.summary.Regions),
			zap.Int("crags", res.summary.Crags),
			zap.Int("parse_errors", res.summary.ParseErrors),
		)
	}
	metrics.ObserveSource(name, string(res.summary.Status), res.summary.ParseErrors)
	return res
}

// skipped records a source that never started because the run was already over.
func (o *Orchestrator) skipped(ctx context.Context, name string, cause error) sourceResult {
	serr := &harvest.SourceError{Source: name, Timeout: timedOut(ctx), Err: fmt.Errorf("not started: %w", cause)}
	status := harvest.SourceFailed
	if serr.Timeout {
		status = harvest.SourceTimedOut
	}
	metrics.ObserveSource(name, string(status), 0)
	return sourceResult{
		summary: harvest.SourceSummary{Name: name, Status: status, Error: serr.Error(), Duration: time.Duration(0).String()},
		err:     serr,
	}
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (o *Orchestrator) writeOutputs(crags []harvest.Crag, regions []harvest.Region) ([]harvest.OutputFile, error) {
	type job struct {
		kind    string
		path    string
		records int
		write   func(string) error
	}
	jobs := []job{{
		kind:    KindNDJSON,
		path:    o.cfg.Output.NDJSONPath,
		records: len(crags),
		write:   func(dst string) error { return output.WriteNDJSON(dst, crags) },
	}}
	if p := o.cfg.Output.GeoJSONPath; p != "" {
		jobs = append(jobs, job{KindGeoJSON, p, len(crags), func(dst string) error { return output.WriteGeoJSON(dst, crags) }})
	}
	if p := o.cfg.Output.RegionsPath; p != "" {
		jobs = append(jobs, job{KindRegions, p, len(regions), func(dst string) error { return output.WriteRegions(dst, regions) }})
	}

	files := make([]harvest.OutputFile, 0, len(jobs))
	for _, j := range jobs {
		if err := j.write(j.path); err != nil {
			return files, err
		}
		digest, err := o.deps.Hasher.HashFile(j.path)
		if err != nil {
			return files, &harvest.WriteError{Path: j.path, Op: "hash", Err: err}
		}
		files = append(files, harvest.OutputFile{Kind: j.kind, Path: j.path, Records: j.records, SHA256: digest})
	}
	return files, nil
}

// mirror copies finished outputs to the blob store under runID/<basename>.
// Mirroring is best effort; the local files are the run's result.
func (o *Orchestrator) mirror(ctx context.Context, runID string, files []harvest.OutputFile, log *zap.Logger) {
	if o.deps.BlobStore == nil {
		return
	}
	for i := range files {
		uri, err := o.mirrorOne(ctx, runID, files[i])
		if err != nil {
			log.Error("mirror artifact failed", zap.String("path", files[i].Path), zap.Error(err))
			continue
		}
		files[i].URI = uri
		log.Debug("artifact mirrored", zap.String("uri", uri))
	}
}

func (o *Orchestrator) mirrorOne(ctx context.Context, runID string, file harvest.OutputFile) (string, error) {
	f, err := os.Open(file.Path) //nolint:gosec // path comes from run configuration
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return o.deps.BlobStore.PutObject(ctx, blobPath(runID, file), contentType(file.Kind), f)
}

// blobPath keys artifacts by run and kind so outputs sharing a basename stay distinct.
func blobPath(runID string, file harvest.OutputFile) string {
	return path.Join(runID, file.Kind, filepath.Base(file.Path))
}

func contentType(kind string) string {
	if kind == KindGeoJSON {
		return "application/geo+json"
	}
	return "application/x-ndjson"
}

// finish stamps the summary, publishes it and records run metrics.
func (o *Orchestrator) finish(ctx context.Context, summary harvest.RunSummary, log *zap.Logger, runErr error) (harvest.RunSummary, error) {
	summary.FinishedAt = o.deps.Clock.Now()
	status := summary.Status()
	if runErr != nil {
		status = "failed"
	}
	metrics.ObserveRun(status, summary.FinishedAt.Sub(summary.StartedAt))

	if runErr == nil && o.deps.Publisher != nil {
		id, err := o.deps.Publisher.Publish(ctx, o.cfg.Notify.Topic, summary)
		if err != nil {
			log.Error("publish run summary failed", zap.Error(err))
		} else {
			log.Debug("run summary published", zap.String("message_id", id))
		}
	}

	fields := []zap.Field{
		zap.String("status", status),
		zap.Int("raw_crags", summary.RawCrags),
		zap.Int("unique_crags", summary.UniqueCrags),
		zap.Int("passed_filters", summary.PassedFilters),
		zap.Int("parse_errors", summary.ParseErrors()),
		zap.Strings("failed_sources", summary.FailedSources()),
	}
	if runErr != nil {
		log.Error("run aborted", append(fields, zap.Error(runErr))...)
		return summary, runErr
	}
	log.Info("run finished", fields...)
	return summary, nil
}

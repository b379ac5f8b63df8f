// Package pipeline runs one publishing cycle: research, generate, stamp,
// tag, merge into the history, persist and render.
//
// Every step that can fail fatally runs before the first durable write, so a
// failed run leaves the stored history and the rendered pages untouched.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crimson-pen/apperrors"
	"crimson-pen/clock"
	"crimson-pen/config"
	"crimson-pen/feeder"
	"crimson-pen/generator"
	"crimson-pen/metrics"
	"crimson-pen/models"
	"crimson-pen/orchestrator"
	"crimson-pen/renderer"
	"crimson-pen/repositories"
	"crimson-pen/tagger"
)

// Feeds supplies research context from RSS sources.
type Feeds interface {
	Collect(ctx context.Context, sources []config.FeedSource, limit int) []feeder.RssFeedItem
	FetchLeadText(ctx context.Context, link string, maxChars int) (string, error)
}

// Deps are the collaborators of a Pipeline. Service, Store and Renderer are
// required; the rest fall back to no-op or system defaults.
type Deps struct {
	Service    generator.Service
	Store      *repositories.HistoryStore
	Renderer   *renderer.Renderer
	Feeds      Feeds
	Clock      clock.Clock
	Quota      orchestrator.QuotaLimiter
	Recorder   metrics.Recorder
	AttemptLog orchestrator.AttemptLog
}

type Pipeline struct {
	cfg    config.AppConfig
	deps   Deps
	tagger *tagger.Tagger
}

// RunOptions adjust a single run.
type RunOptions struct {
	// Date overrides today's date in the configured zone.
	Date time.Time
	// DryRun generates and renders but writes nothing.
	DryRun bool
}

// Result summarizes a finished run.
type Result struct {
	RunID       string
	Date        string
	Record      models.Record
	HistorySize int
	Documents   []string
	Diagnostics []*apperrors.Error
	Spans       int
	DryRun      bool
}

func New(cfg config.AppConfig, deps Deps) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	return &Pipeline{cfg: cfg, deps: deps, tagger: tagger.New(cfg.Schema, cfg.Tagging)}
}

// textfileWriter is implemented by recorders that can export to a file.
type textfileWriter interface {
	WriteTextfile(path string) error
}

// Run executes one publishing cycle.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	started := p.deps.Clock.Now()
	res := &Result{RunID: uuid.NewString(), DryRun: opts.DryRun}

	err := p.run(ctx, opts, res)

	p.deps.Recorder.ObserveRunDuration(p.deps.Clock.Now().Sub(started))
	if err != nil {
		p.deps.Recorder.IncRunOutcome("failed")
		config.ErrorWithFields("publishing run failed", config.Fields{
			"run_id":     res.RunID,
			"date":       res.Date,
			"error_kind": string(apperrors.KindOf(err)),
			"error":      err.Error(),
		})
	} else {
		p.deps.Recorder.IncRunOutcome("success")
		p.deps.Recorder.SetHistoryRecords(res.HistorySize)
		p.deps.Recorder.SetLastSuccess(p.deps.Clock.Now())
		config.InfoWithFields("publishing run finished", config.Fields{
			"run_id":       res.RunID,
			"date":         res.Date,
			"history_size": res.HistorySize,
			"documents":    len(res.Documents),
			"diagnostics":  len(res.Diagnostics),
			"dry_run":      res.DryRun,
		})
		// failed and dry runs leave the filesystem as they found it
		if !opts.DryRun {
			p.exportMetrics()
		}
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, opts RunOptions, res *Result) error {
	if p.cfg.History.LockFile != "" && !opts.DryRun {
		lock, err := AcquireRunLock(p.cfg.History.LockFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				config.Logger.Warnf("release run lock: %v", err)
			}
		}()
	}

	day := opts.Date
	if day.IsZero() {
		day = p.deps.Clock.Now()
	}
	day = day.In(p.cfg.Location())
	res.Date = day.Format(models.DateLayout)
	config.InfoWithFields("publishing run started", config.Fields{"run_id": res.RunID, "date": res.Date})

	data := PromptData{Date: res.Date}
	if p.cfg.Research.Enabled {
		if err := p.research(ctx, res.RunID, &data); err != nil {
			return err
		}
	}

	prompt, err := renderPrompt("writing", p.cfg.Generation.Prompt, data)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindConfig, "writing prompt")
	}
	writer := p.orchestrator("write", res.RunID, p.cfg.Generation.Candidates,
		orchestrator.WithValidator(orchestrator.RequireFields(p.cfg.Schema.RequiredFields, p.cfg.Schema.Languages)))
	fields, err := writer.Generate(ctx, prompt)
	if err != nil {
		return err
	}

	rec := models.NewRecord(day, fields)
	if p.cfg.Tagging.TaggingEnabled() {
		res.Spans = p.tagger.Tag(&rec)
	}
	res.Record = rec

	history, diags, err := p.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	res.Diagnostics = append(res.Diagnostics, diags...)
	history = p.deps.Store.Upsert(history, rec)
	res.HistorySize = len(history)

	pub, diags, err := p.deps.Renderer.Render(history, rec)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	res.Diagnostics = append(res.Diagnostics, diags...)
	res.Documents = pub.Paths()

	if opts.DryRun {
		config.Logger.Infof("dry run: skipping history save and %d documents", len(res.Documents))
		return nil
	}
	if err := p.deps.Store.Save(ctx, history); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	if err := pub.Write(); err != nil {
		return err
	}
	return nil
}

// research gathers headlines and, when enabled, a grounded research summary.
func (p *Pipeline) research(ctx context.Context, runID string, data *PromptData) error {
	rc := p.cfg.Research
	if p.deps.Feeds != nil && len(rc.Feeds) > 0 {
		items := p.deps.Feeds.Collect(ctx, rc.Feeds, rc.FeedLimit)
		data.Headlines = feeder.FormatHeadlines(items)
		if rc.LeadArticle && len(items) > 0 {
			lead, err := p.deps.Feeds.FetchLeadText(ctx, items[0].Link, rc.LeadMaxChar)
			if err != nil {
				config.Logger.Warnf("lead article skipped: %v", err)
			} else {
				data.Lead = lead
			}
		}
	}

	if rc.Prompt == "" {
		return nil
	}
	prompt, err := renderPrompt("research", rc.Prompt, *data)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindConfig, "research prompt")
	}
	text, err := p.orchestrator("research", runID, rc.Candidates).Research(ctx, prompt)
	if err != nil {
		return err
	}
	data.Research = text
	return nil
}

func (p *Pipeline) orchestrator(purpose, runID string, candidates []config.Candidate, extra ...orchestrator.Option) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithClock(p.deps.Clock),
		orchestrator.WithRecorder(p.deps.Recorder),
		orchestrator.WithRunID(runID),
	}
	if p.deps.Quota != nil {
		opts = append(opts, orchestrator.WithQuota(p.deps.Quota))
	}
	if p.deps.AttemptLog != nil {
		opts = append(opts, orchestrator.WithAttemptLog(p.deps.AttemptLog))
	}
	opts = append(opts, extra...)
	cfg := orchestrator.NewConfig(purpose, p.cfg.Generation, candidates)
	return orchestrator.New(p.deps.Service, cfg, opts...)
}

func (p *Pipeline) exportMetrics() {
	path := p.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	w, ok := p.deps.Recorder.(textfileWriter)
	if !ok {
		return
	}
	if err := w.WriteTextfile(path); err != nil {
		config.Logger.Warnf("write metrics textfile %s: %v", path, err)
	}
}

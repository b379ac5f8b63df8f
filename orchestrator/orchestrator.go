// Package orchestrator drives the generation service until a valid record is
// extracted or every configured try is spent.
//
// Tries are strictly sequential. The retry loop is an explicit state machine
// (candidate index, attempt counter, backoff schedule) so it can be exercised
// with a fake clock and a fake service.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crimson-pen/apperrors"
	"crimson-pen/clock"
	"crimson-pen/config"
	"crimson-pen/generator"
	"crimson-pen/metrics"
	"crimson-pen/models"
	"crimson-pen/parser"
	"crimson-pen/retry"
)

type State int

const (
	StateIdle State = iota
	StateRequesting
	StateExtracting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateExtracting:
		return "extracting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Candidate is one service configuration, tried up to MaxAttempts times.
type Candidate struct {
	Model            string
	GoogleSearch     bool
	ResponseMIMEType string
	MaxAttempts      int
}

// Config is the explicit per-run configuration of an Orchestrator.
type Config struct {
	// Purpose labels logs and metrics ("research", "write").
	Purpose           string
	Candidates        []Candidate
	SystemInstruction string
	Retry             retry.Policy
	RateLimitRetry    retry.Policy
}

// NewConfig builds a Config from the application configuration.
func NewConfig(purpose string, g config.GenerationConfig, candidates []config.Candidate) Config {
	cfg := Config{
		Purpose:           purpose,
		SystemInstruction: g.SystemInstruction,
		Retry:             retry.FromConfig(g.Retry),
		RateLimitRetry:    retry.FromConfig(g.RateLimitRetry),
	}
	for _, c := range candidates {
		cfg.Candidates = append(cfg.Candidates, Candidate{
			Model:            c.Model,
			GoogleSearch:     c.GoogleSearch,
			ResponseMIMEType: c.ResponseMIMEType,
			MaxAttempts:      c.MaxAttempts,
		})
	}
	return cfg
}

// Event describes one state transition.
type Event struct {
	Purpose     string
	From, To    State
	Model       string
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

type Observer func(Event)

// Validator checks extracted fields; a non-retryable error aborts the run.
type Validator func(models.Fields) error

// RequireFields returns a Validator failing with SchemaIncomplete when any
// required field is missing for any language.
func RequireFields(required, languages []string) Validator {
	return func(f models.Fields) error {
		if missing := f.Missing(required, languages); len(missing) > 0 {
			return apperrors.SchemaIncomplete(missing)
		}
		return nil
	}
}

type QuotaLimiter interface {
	WaitAndReserve(ctx context.Context) (bool, error)
}

// AttemptLog persists one row per attempt.
type AttemptLog interface {
	Record(ctx context.Context, log models.AILog) error
}

type Orchestrator struct {
	service  generator.Service
	cfg      Config
	clock    clock.Clock
	quota    QuotaLimiter
	recorder metrics.Recorder
	log      AttemptLog
	observer Observer
	validate Validator
	runID    string
}

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clock = c } }
func WithQuota(q QuotaLimiter) Option { return func(o *Orchestrator) { o.quota = q } }
func WithRecorder(r metrics.Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }
func WithAttemptLog(l AttemptLog) Option { return func(o *Orchestrator) { o.log = l } }
func WithObserver(fn Observer) Option { return func(o *Orchestrator) { o.observer = fn } }
func WithValidator(v Validator) Option { return func(o *Orchestrator) { o.validate = v } }
func WithRunID(id string) Option { return func(o *Orchestrator) { o.runID = id } }

func New(service generator.Service, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		service:  service,
		cfg:      cfg,
		clock:    clock.System{},
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate returns validated fields extracted from the service response.
func (o *Orchestrator) Generate(ctx context.Context, prompt string) (models.Fields, error) {
	var fields models.Fields
	err := o.run(ctx, prompt, func(resp *generator.Response) error {
		f, err := parser.ExtractFields(resp.Text)
		if err != nil {
			return err
		}
		if o.validate != nil {
			if err := o.validate(f); err != nil {
				return err
			}
		}
		fields = f
		return nil
	})
	return fields, err
}

// Research returns the raw response text; only an empty response is retried.
func (o *Orchestrator) Research(ctx context.Context, prompt string) (string, error) {
	var text string
	err := o.run(ctx, prompt, func(resp *generator.Response) error {
		if strings.TrimSpace(resp.Text) == "" {
			return apperrors.MalformedResponse("research response is empty", nil)
		}
		text = resp.Text
		return nil
	})
	return text, err
}

// machine is the retry state: which candidate, which try, what failed last.
type machine struct {
	state     State
	candidate int
	attempt   int
	resp      *generator.Response
	lastErr   error
}

func (o *Orchestrator) run(ctx context.Context, prompt string, accept func(*generator.Response) error) error {
	m := &machine{state: StateIdle}
	if len(o.cfg.Candidates) == 0 {
		o.transition(m, StateFailed, 0, nil)
		return apperrors.ConfigInvalid("candidates", "no generation candidates configured")
	}
	o.transition(m, StateRequesting, 0, nil)

	for {
		switch m.state {
		case StateRequesting:
			if m.candidate >= len(o.cfg.Candidates) {
				o.transition(m, StateFailed, 0, m.lastErr)
				return apperrors.Wrap(m.lastErr, apperrors.KindGenerationFailed, "all generation attempts exhausted").
					WithContext("purpose", o.cfg.Purpose)
			}
			cand := o.cfg.Candidates[m.candidate]
			m.attempt++

			if o.quota != nil {
				allowed, err := o.quota.WaitAndReserve(ctx)
				if err != nil {
					o.transition(m, StateFailed, 0, err)
					return err
				}
				if !allowed {
					err := apperrors.New(apperrors.KindQuotaExhausted, "daily generation quota exhausted")
					o.transition(m, StateFailed, 0, err)
					return err
				}
			}

			resp, err := o.request(ctx, cand, prompt, m.attempt)
			if err != nil {
				if ctx.Err() != nil {
					o.transition(m, StateFailed, 0, ctx.Err())
					return ctx.Err()
				}
				if err := o.backoff(ctx, m, err); err != nil {
					return err
				}
				continue
			}
			m.resp = resp
			o.transition(m, StateExtracting, 0, nil)

		case StateExtracting:
			cand := o.cfg.Candidates[m.candidate]
			err := accept(m.resp)
			if err == nil {
				o.recorder.IncGenerationAttempt(o.cfg.Purpose, cand.Model, metrics.OutcomeSuccess)
				o.transition(m, StateDone, 0, nil)
				return nil
			}
			o.recorder.IncGenerationAttempt(o.cfg.Purpose, cand.Model, outcome(err))
			if !apperrors.IsRetryable(err) {
				o.transition(m, StateFailed, 0, err)
				return err
			}
			if err := o.backoff(ctx, m, err); err != nil {
				return err
			}

		default:
			return fmt.Errorf("orchestrator: unexpected state %s", m.state)
		}
	}
}

// backoff records a failed try and moves the machine back to Requesting:
// either the same candidate after a delay, or the next candidate at once.
func (o *Orchestrator) backoff(ctx context.Context, m *machine, err error) error {
	m.lastErr = err
	cand := o.cfg.Candidates[m.candidate]

	var delay time.Duration
	if m.attempt < maxAttempts(cand) {
		policy := o.cfg.Retry
		if apperrors.KindOf(err) == apperrors.KindRateLimited {
			policy = o.cfg.RateLimitRetry
		}
		delay = policy.Delay(m.attempt)
	}

	o.transition(m, StateRequesting, delay, err)

	if m.attempt >= maxAttempts(cand) {
		m.candidate++
		m.attempt = 0
		return nil
	}
	if err := o.clock.Sleep(ctx, delay); err != nil {
		o.transition(m, StateFailed, 0, err)
		return err
	}
	return nil
}

func (o *Orchestrator) request(ctx context.Context, cand Candidate, prompt string, attempt int) (*generator.Response, error) {
	requestedAt := o.clock.Now()
	resp, err := o.service.Generate(ctx, generator.Request{
		Model:             cand.Model,
		Prompt:            prompt,
		SystemInstruction: o.cfg.SystemInstruction,
		GoogleSearch:      cand.GoogleSearch,
		ResponseMIMEType:  cand.ResponseMIMEType,
	})
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			err = apperrors.Transport(err)
		}
		o.recorder.IncGenerationAttempt(o.cfg.Purpose, cand.Model, outcome(err))
	} else {
		o.recorder.ObserveGenerationLatency(cand.Model, time.Duration(resp.LatencyMs)*time.Millisecond)
	}
	o.recordAttempt(ctx, cand, prompt, attempt, requestedAt, resp, err)
	return resp, err
}

func (o *Orchestrator) recordAttempt(ctx context.Context, cand Candidate, prompt string, attempt int, requestedAt time.Time, resp *generator.Response, err error) {
	if o.log == nil {
		return
	}
	entry := models.AILog{
		RunID:       o.runID,
		Purpose:     o.cfg.Purpose,
		Attempt:     attempt,
		ModelName:   cand.Model,
		InputPrompt: prompt,
		RequestedAt: requestedAt,
		CompletedAt: o.clock.Now(),
	}
	if resp != nil {
		entry.ModelVersion = resp.ModelVersion
		entry.InputTokens = resp.TokenUsage.InputTokens
		entry.OutputTokens = resp.TokenUsage.OutputTokens
		entry.TotalTokens = resp.TokenUsage.TotalTokens
		entry.DurationMs = resp.LatencyMs
		entry.OutputResponse = resp.Text
	}
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
		entry.ErrorKind = string(apperrors.KindOf(err))
	}
	if logErr := o.log.Record(ctx, entry); logErr != nil {
		config.Logger.Warnf("failed to record generation attempt: %v", logErr)
	}
}

func (o *Orchestrator) transition(m *machine, to State, delay time.Duration, err error) {
	ev := Event{
		Purpose: o.cfg.Purpose,
		From:    m.state,
		To:      to,
		Attempt: m.attempt,
		Delay:   delay,
		Err:     err,
	}
	if m.candidate < len(o.cfg.Candidates) {
		cand := o.cfg.Candidates[m.candidate]
		ev.Model = cand.Model
		ev.MaxAttempts = maxAttempts(cand)
	}
	m.state = to

	if err != nil && to == StateRequesting {
		config.WarnWithFields("generation attempt failed", config.Fields{
			"run_id":       o.runID,
			"purpose":      ev.Purpose,
			"model":        ev.Model,
			"attempt":      ev.Attempt,
			"max_attempts": ev.MaxAttempts,
			"error_kind":   string(apperrors.KindOf(err)),
			"backoff":      delay.String(),
			"error":        err.Error(),
		})
	}
	if o.observer != nil {
		o.observer(ev)
	}
}

func maxAttempts(c Candidate) int {
	if c.MaxAttempts <= 0 {
		return 1
	}
	return c.MaxAttempts
}

func outcome(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.KindRateLimited:
		return metrics.OutcomeRateLimited
	case apperrors.KindMalformedResponse:
		return metrics.OutcomeMalformed
	case apperrors.KindSchemaIncomplete:
		return metrics.OutcomeSchema
	default:
		return metrics.OutcomeTransport
	}
}

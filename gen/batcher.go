package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/datamodel"
	"github.com/dataforge-ai/dataforge/taskrunner"
	"github.com/dataforge-ai/dataforge/types"
)

const (
	// DefaultWorkers bounds the number of in-flight generation requests.
	// Five keeps a comfortable margin under the task-runner's connection
	// budget while leaving room for unrelated traffic.
	DefaultWorkers = 5

	// DefaultSampleCount is the number of samples requested per topic when
	// the caller does not specify one.
	DefaultSampleCount = 8
)

// Generator issues one generation call for one topic. *taskrunner.Client
// satisfies this interface.
type Generator interface {
	Generate(ctx context.Context, req taskrunner.GenerateRequest) ([]json.RawMessage, error)
}

// Observer receives per-request measurements. Implemented by the metrics
// collector; a nil observer disables recording.
type Observer interface {
	ObserveGeneration(provider, model, status string, duration time.Duration, samples int)
}

// TokenRecorder is an optional Observer extension: when the observer also
// implements it, the batcher reports the estimated token total of each
// successful topic. Implemented by the metrics collector.
type TokenRecorder interface {
	RecordEstimatedTokens(provider, model string, tokens int)
}

// tokenCounter counts tokens in sample content. *datamodel.TokenEstimator
// satisfies this interface.
type tokenCounter interface {
	Count(text string) (int, error)
}

// Outcome is the per-topic result of one generation attempt. Err is nil on
// success.
type Outcome struct {
	Path datamodel.TopicPath  `json:"path"`
	Node *datamodel.TopicNode `json:"-"`
	Err  error                `json:"-"`
}

// Key returns the serialized topic path identifying the outcome.
func (o Outcome) Key() string {
	return o.Path.String()
}

// Options configures one batch run.
type Options struct {
	// Topic is the target topic node; Path is its full path from the tree root.
	Topic *datamodel.TopicNode
	Path  datamodel.TopicPath

	// Cascade expands the target set to every leaf descendant of Topic
	// (including Topic itself when it is a leaf). When false, the target
	// set is exactly {Topic} regardless of tree shape.
	Cascade bool

	// SampleCount is the number of samples requested per topic.
	// Zero means DefaultSampleCount; negative values are rejected.
	SampleCount int

	// ModelID identifies the generating model, "provider/model-name".
	ModelID string

	// Kind selects what the generated samples are for.
	Kind datamodel.GenerationKind

	// Guidance is optional free-text steering; empty means absent.
	Guidance string

	// Temperature and TopP override the neutral sampling defaults when
	// non-nil. Values outside the model ranges are rejected.
	Temperature *float64
	TopP        *float64

	// CountTokens enables best-effort token estimation on appended samples.
	CountTokens bool

	// OnOutcome, if set, is called after each topic's outcome is recorded.
	// Called from worker goroutines.
	OnOutcome func(Outcome)

	// OnComplete, if set, fires exactly once after the join, and only when
	// every topic in the run succeeded.
	OnComplete func()
}

// Result is the aggregate outcome of a batch run.
type Result struct {
	Total     int
	Succeeded int
	Outcomes  []Outcome // all outcomes, ordered by topic key
	Duration  time.Duration
}

// FailedCount returns the number of topics whose outcome carries an error.
func (r *Result) FailedCount() int {
	return r.Total - r.Succeeded
}

// FullySuccessful reports whether every recorded outcome has a nil error.
func (r *Result) FullySuccessful() bool {
	return r.FailedCount() == 0
}

// Summary returns a short human-readable completion message.
func (r *Result) Summary() string {
	if r.FullySuccessful() {
		return fmt.Sprintf("%d topics succeeded", r.Total)
	}
	return fmt.Sprintf("%d topics failed", r.FailedCount())
}

// Failed returns the outcomes that carry errors, ordered by topic key.
func (r *Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// BatcherConfig configures the batcher.
type BatcherConfig struct {
	// Workers is the fixed size of the worker pool. Defaults to DefaultWorkers.
	Workers int

	// Observer receives per-request measurements. Optional.
	Observer Observer
}

// DefaultBatcherConfig returns the standard configuration.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{Workers: DefaultWorkers}
}

// Batcher fans generation requests out over target topics with bounded
// concurrency and tracks per-topic outcomes. The outcomes map is created
// empty at run start, populated incrementally as workers complete, and
// discarded at the next run start.
type Batcher struct {
	generator Generator
	workers   int
	observer  Observer
	logger    *zap.Logger

	mu       sync.Mutex
	outcomes map[string]Outcome
}

// NewBatcher creates a batcher using the given generator.
func NewBatcher(generator Generator, cfg BatcherConfig, logger *zap.Logger) *Batcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		generator: generator,
		workers:   cfg.Workers,
		observer:  cfg.Observer,
		logger:    logger.With(zap.String("component", "gen_batcher")),
		outcomes:  make(map[string]Outcome),
	}
}

// runParams is the validated, normalized request shared by all workers.
type runParams struct {
	config      datamodel.RunConfig
	sampleCount int
	kind        datamodel.GenerationKind
	guidance    string
	estimator   tokenCounter
	onOutcome   func(Outcome)
}

// Run executes one batch. Precondition failures return an error before any
// request is issued; per-topic failures are recorded in the outcomes and do
// not fail the run itself. Once started, the run always drains the full
// target set.
func (b *Batcher) Run(ctx context.Context, opts Options) (*Result, error) {
	params, err := b.validate(opts)
	if err != nil {
		return nil, err
	}

	var targets []datamodel.Target
	if opts.Cascade {
		targets = datamodel.CollectLeafTargets(opts.Topic, opts.Path)
	} else {
		targets = []datamodel.Target{{Node: opts.Topic, Path: opts.Path.Clone()}}
	}

	b.mu.Lock()
	b.outcomes = make(map[string]Outcome, len(targets))
	b.mu.Unlock()

	b.logger.Info("batch started",
		zap.String("topic", opts.Path.String()),
		zap.Bool("cascade", opts.Cascade),
		zap.Int("targets", len(targets)),
		zap.String("model", params.config.ProviderName+"/"+params.config.ModelName),
		zap.Int("sample_count", params.sampleCount),
	)

	start := time.Now()
	queue := make(chan datamodel.Target, len(targets))
	for _, tgt := range targets {
		queue <- tgt
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tgt := range queue {
				b.processTopic(ctx, tgt, params)
			}
		}()
	}
	wg.Wait()

	result := b.buildResult(time.Since(start))

	if result.FullySuccessful() {
		b.logger.Info("batch completed", zap.Int("topics", result.Total), zap.Duration("duration", result.Duration))
		if opts.OnComplete != nil {
			opts.OnComplete()
		}
	} else {
		b.logger.Warn("batch partially failed",
			zap.String("summary", result.Summary()),
			zap.Int("topics", result.Total),
			zap.Duration("duration", result.Duration),
		)
	}

	return result, nil
}

// validate checks preconditions and normalizes the options. All violations
// are PRECONDITION errors that abort the run before any request is issued.
func (b *Batcher) validate(opts Options) (runParams, error) {
	if opts.Topic == nil {
		return runParams{}, types.NewError(types.ErrPrecondition, "target topic is required")
	}
	provider, model, err := datamodel.ParseModelID(opts.ModelID)
	if err != nil {
		return runParams{}, err
	}
	if !opts.Kind.Valid() {
		return runParams{}, types.NewError(types.ErrPrecondition, "generation kind is required")
	}
	count := opts.SampleCount
	if count == 0 {
		count = DefaultSampleCount
	}
	if count < 0 {
		return runParams{}, types.NewError(types.ErrPrecondition, "sample count must be positive")
	}

	cfg := datamodel.DefaultRunConfig(provider, model)
	if opts.Temperature != nil {
		cfg.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		cfg.TopP = *opts.TopP
	}
	if err := cfg.Validate(); err != nil {
		return runParams{}, err
	}

	params := runParams{
		config:      cfg,
		sampleCount: count,
		kind:        opts.Kind,
		guidance:    datamodel.NormalizeGuidance(opts.Guidance),
		onOutcome:   opts.OnOutcome,
	}
	if opts.CountTokens {
		params.estimator = datamodel.NewTokenEstimator(model)
	}
	return params, nil
}

// processTopic performs one generation request and records the outcome.
func (b *Batcher) processTopic(ctx context.Context, tgt datamodel.Target, params runParams) {
	start := time.Now()
	items, err := b.generator.Generate(ctx, taskrunner.GenerateRequest{
		TopicPath:   tgt.Path,
		NumSamples:  params.sampleCount,
		ModelName:   params.config.ModelName,
		Provider:    params.config.ProviderName,
		Guidance:    params.guidance,
		Kind:        string(params.kind),
		Temperature: params.config.Temperature,
		TopP:        params.config.TopP,
	})
	duration := time.Since(start)

	if err != nil {
		b.observe(params, "error", duration, 0)
		b.logger.Warn("topic generation failed",
			zap.String("topic", tgt.Key()),
			zap.Error(err),
		)
		b.record(tgt, nil, err, params.onOutcome)
		return
	}

	samples := make([]datamodel.Sample, 0, len(items))
	totalTokens := 0
	for _, item := range items {
		content, ok := taskrunner.ItemContent(item)
		if !ok {
			continue
		}
		s := datamodel.Sample{
			Content:   content,
			ModelName: params.config.ModelName,
			Provider:  params.config.ProviderName,
		}
		if params.estimator != nil {
			if n, err := params.estimator.Count(content); err == nil {
				s.TokenCount = n
				totalTokens += n
			}
		}
		samples = append(samples, s)
	}

	b.observe(params, "success", duration, len(samples))
	if totalTokens > 0 {
		if rec, ok := b.observer.(TokenRecorder); ok {
			rec.RecordEstimatedTokens(params.config.ProviderName, params.config.ModelName, totalTokens)
		}
	}
	b.logger.Debug("topic generated",
		zap.String("topic", tgt.Key()),
		zap.Int("samples", len(samples)),
		zap.Duration("duration", duration),
	)
	b.record(tgt, samples, nil, params.onOutcome)
}

// record is the single designated mutation point for the outcomes map and
// the topic tree: samples are appended to the node and the topic's outcome
// is stored under one lock, so snapshots never see a torn update.
func (b *Batcher) record(tgt datamodel.Target, samples []datamodel.Sample, err error, onOutcome func(Outcome)) {
	outcome := Outcome{Path: tgt.Path, Node: tgt.Node, Err: err}

	b.mu.Lock()
	if err == nil {
		tgt.Node.Samples = append(tgt.Node.Samples, samples...)
	}
	b.outcomes[tgt.Key()] = outcome
	b.mu.Unlock()

	if onOutcome != nil {
		onOutcome(outcome)
	}
}

func (b *Batcher) observe(params runParams, status string, duration time.Duration, samples int) {
	if b.observer == nil {
		return
	}
	b.observer.ObserveGeneration(params.config.ProviderName, params.config.ModelName, status, duration, samples)
}

// Snapshot returns a read-only copy of the outcomes recorded so far, ordered
// by topic key. Safe to call while a run is in flight.
func (b *Batcher) Snapshot() []Outcome {
	b.mu.Lock()
	out := make([]Outcome, 0, len(b.outcomes))
	for _, o := range b.outcomes {
		out = append(out, o)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (b *Batcher) buildResult(duration time.Duration) *Result {
	outcomes := b.Snapshot()
	succeeded := 0
	for _, o := range outcomes {
		if o.Err == nil {
			succeeded++
		}
	}
	return &Result{
		Total:     len(outcomes),
		Succeeded: succeeded,
		Outcomes:  outcomes,
		Duration:  duration,
	}
}

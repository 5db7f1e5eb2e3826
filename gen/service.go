package gen

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/datamodel"
	"github.com/dataforge-ai/dataforge/store"
	"github.com/dataforge-ai/dataforge/types"
)

// RunStore persists runs and per-topic outcomes. *store.Store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run *store.Run) error
	FinishRun(ctx context.Context, id, status string, total, succeeded int) error
	RecordOutcome(ctx context.Context, outcome *store.RunOutcome) error
}

// RunMetrics receives run lifecycle measurements. Implemented by the metrics
// collector; nil disables recording.
type RunMetrics interface {
	RunStarted(topics int)
	RunFinished(status string)
}

// ProgressEvent is one update on a run's progress stream.
type ProgressEvent struct {
	Type      string `json:"type"` // "outcome" or "complete"
	RunID     string `json:"run_id"`
	TopicPath string `json:"topic_path,omitempty"`
	Status    string `json:"status,omitempty"` // "succeeded" or "failed"
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Samples   int    `json:"samples,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// OutcomeView is the API-facing form of one topic's outcome.
type OutcomeView struct {
	TopicPath string `json:"topic_path"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Samples   int    `json:"samples"`
}

// RunView is a point-in-time snapshot of one run.
type RunView struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"` // running, succeeded, failed
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Succeeded  int           `json:"succeeded"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Outcomes   []OutcomeView `json:"outcomes,omitempty"`
}

// SampleView is one generated sample with its topic context, used by the
// save endpoint.
type SampleView struct {
	TopicPath  string `json:"topic_path"`
	Content    string `json:"content"`
	ModelName  string `json:"model_name"`
	Provider   string `json:"provider"`
	Kind       string `json:"kind"`
	TokenCount int    `json:"token_count,omitempty"`
}

// StartRunInput describes one generation run request after decoding.
type StartRunInput struct {
	Topic       *datamodel.TopicNode
	Path        datamodel.TopicPath
	Cascade     bool
	SampleCount int
	ModelID     string
	Kind        datamodel.GenerationKind
	Guidance    string
	Temperature *float64
	TopP        *float64
	CountTokens bool
}

// runHandle tracks one in-flight or finished run.
type runHandle struct {
	id        string
	batcher   *Batcher
	input     StartRunInput
	total     int
	startedAt time.Time

	mu         sync.Mutex
	status     string
	completed  int
	succeeded  int
	finishedAt *time.Time
	subs       map[chan ProgressEvent]struct{}
}

// ServiceConfig configures the run service.
type ServiceConfig struct {
	// Workers is the per-run worker pool size. Defaults to DefaultWorkers.
	Workers int

	// Observer receives per-request measurements. Optional.
	Observer Observer

	// Metrics receives run lifecycle measurements. Optional.
	Metrics RunMetrics
}

// Service multiplexes generation runs. Each run gets its own Batcher, so
// per-run outcome state never bleeds between concurrent runs. Runs are kept
// in memory for the lifetime of the process; persistence of run metadata
// and outcomes goes through RunStore.
type Service struct {
	generator Generator
	store     RunStore
	cfg       ServiceConfig
	logger    *zap.Logger

	mu   sync.RWMutex
	runs map[string]*runHandle
}

// NewService creates a run service. store may be nil to disable persistence.
func NewService(generator Generator, st RunStore, cfg ServiceConfig, logger *zap.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		generator: generator,
		store:     st,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "run_service")),
		runs:      make(map[string]*runHandle),
	}
}

// StartRun validates the input, registers a new run and launches it in the
// background. Precondition failures are returned synchronously before any
// request is issued; once this returns a run ID, the run drains its full
// target set regardless of per-topic failures.
func (s *Service) StartRun(ctx context.Context, input StartRunInput) (string, error) {
	batcher := NewBatcher(s.generator, BatcherConfig{
		Workers:  s.cfg.Workers,
		Observer: s.cfg.Observer,
	}, s.logger)

	opts := Options{
		Topic:       input.Topic,
		Path:        input.Path,
		Cascade:     input.Cascade,
		SampleCount: input.SampleCount,
		ModelID:     input.ModelID,
		Kind:        input.Kind,
		Guidance:    input.Guidance,
		Temperature: input.Temperature,
		TopP:        input.TopP,
		CountTokens: input.CountTokens,
	}

	// Surface precondition errors to the caller before the run exists.
	if _, err := batcher.validate(opts); err != nil {
		return "", err
	}

	total := 1
	if input.Cascade {
		total = len(datamodel.CollectLeafTargets(input.Topic, input.Path))
	}

	h := &runHandle{
		id:        uuid.NewString(),
		batcher:   batcher,
		input:     input,
		total:     total,
		startedAt: time.Now(),
		status:    store.RunStatusRunning,
		subs:      make(map[chan ProgressEvent]struct{}),
	}

	if s.store != nil {
		sampleCount := input.SampleCount
		if sampleCount == 0 {
			sampleCount = DefaultSampleCount
		}
		run := &store.Run{
			ID:          h.id,
			Status:      store.RunStatusRunning,
			ModelID:     input.ModelID,
			Kind:        string(input.Kind),
			RootTopic:   input.Path.String(),
			Cascade:     input.Cascade,
			SampleCount: sampleCount,
			StartedAt:   h.startedAt,
		}
		if err := s.store.CreateRun(ctx, run); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	s.runs[h.id] = h
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RunStarted(total)
	}

	opts.OnOutcome = func(o Outcome) { s.handleOutcome(h, o) }

	// The run owns its own context: an API client disconnecting must not
	// cancel in-flight generation.
	go s.execute(context.Background(), h, opts)

	return h.id, nil
}

func (s *Service) execute(ctx context.Context, h *runHandle, opts Options) {
	result, err := h.batcher.Run(ctx, opts)
	if err != nil {
		// validate already passed in StartRun, so this is unreachable in
		// practice; guard anyway.
		s.finish(ctx, h, store.RunStatusFailed, 0)
		s.logger.Error("run aborted", zap.String("run_id", h.id), zap.Error(err))
		return
	}

	status := store.RunStatusSucceeded
	if !result.FullySuccessful() {
		status = store.RunStatusFailed
	}
	s.finish(ctx, h, status, result.Succeeded)
}

func (s *Service) handleOutcome(h *runHandle, o Outcome) {
	view := outcomeView(o)

	if s.store != nil {
		row := &store.RunOutcome{
			RunID:        h.id,
			TopicPath:    view.TopicPath,
			Status:       view.Status,
			ErrorCode:    view.ErrorCode,
			ErrorMessage: view.Error,
			Samples:      view.Samples,
		}
		if err := s.store.RecordOutcome(context.Background(), row); err != nil {
			s.logger.Warn("failed to persist outcome",
				zap.String("run_id", h.id),
				zap.String("topic", view.TopicPath),
				zap.Error(err),
			)
		}
	}

	h.mu.Lock()
	h.completed++
	if o.Err == nil {
		h.succeeded++
	}
	event := ProgressEvent{
		Type:      "outcome",
		RunID:     h.id,
		TopicPath: view.TopicPath,
		Status:    view.Status,
		ErrorCode: view.ErrorCode,
		Error:     view.Error,
		Samples:   view.Samples,
		Completed: h.completed,
		Total:     h.total,
	}
	h.broadcastLocked(event)
	h.mu.Unlock()
}

func (s *Service) finish(ctx context.Context, h *runHandle, status string, succeeded int) {
	now := time.Now()

	h.mu.Lock()
	h.status = status
	h.finishedAt = &now
	h.broadcastLocked(ProgressEvent{
		Type:      "complete",
		RunID:     h.id,
		Status:    status,
		Completed: h.completed,
		Total:     h.total,
	})
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
	h.mu.Unlock()

	if s.store != nil {
		if err := s.store.FinishRun(ctx, h.id, status, h.total, succeeded); err != nil {
			s.logger.Warn("failed to persist run completion",
				zap.String("run_id", h.id), zap.Error(err))
		}
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RunFinished(status)
	}

	s.logger.Info("run finished",
		zap.String("run_id", h.id),
		zap.String("status", status),
		zap.Int("topics", h.total),
		zap.Int("succeeded", succeeded),
	)
}

// broadcastLocked delivers an event to all subscribers. Slow subscribers
// drop events rather than block workers; the final snapshot is always
// available through Get.
func (h *runHandle) broadcastLocked(event ProgressEvent) {
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Get returns a point-in-time view of the run.
func (s *Service) Get(runID string) (*RunView, error) {
	h, err := s.handle(runID)
	if err != nil {
		return nil, err
	}

	outcomes := h.batcher.Snapshot()
	views := make([]OutcomeView, 0, len(outcomes))
	for _, o := range outcomes {
		views = append(views, outcomeView(o))
	}

	h.mu.Lock()
	view := &RunView{
		ID:         h.id,
		Status:     h.status,
		Total:      h.total,
		Completed:  h.completed,
		Succeeded:  h.succeeded,
		StartedAt:  h.startedAt,
		FinishedAt: h.finishedAt,
		Outcomes:   views,
	}
	h.mu.Unlock()

	return view, nil
}

// Subscribe attaches a progress listener to a run. The returned channel is
// closed when the run completes; the cancel func detaches early. Subscribing
// to a finished run yields an immediately closed channel carrying one final
// completion event.
func (s *Service) Subscribe(runID string) (<-chan ProgressEvent, func(), error) {
	h, err := s.handle(runID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan ProgressEvent, 64)

	h.mu.Lock()
	if h.finishedAt != nil {
		ch <- ProgressEvent{
			Type:      "complete",
			RunID:     h.id,
			Status:    h.status,
			Completed: h.completed,
			Total:     h.total,
		}
		close(ch)
		h.mu.Unlock()
		return ch, func() {}, nil
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel, nil
}

// Samples returns every sample generated so far for the run's target topics,
// with topic context attached.
func (s *Service) Samples(runID string) ([]SampleView, error) {
	h, err := s.handle(runID)
	if err != nil {
		return nil, err
	}

	var out []SampleView
	for _, o := range h.batcher.Snapshot() {
		if o.Err != nil || o.Node == nil {
			continue
		}
		for _, sample := range o.Node.Samples {
			out = append(out, SampleView{
				TopicPath:  o.Key(),
				Content:    sample.Content,
				ModelName:  sample.ModelName,
				Provider:   sample.Provider,
				Kind:       string(h.input.Kind),
				TokenCount: sample.TokenCount,
			})
		}
	}
	return out, nil
}

func (s *Service) handle(runID string) (*runHandle, error) {
	s.mu.RLock()
	h, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "run "+runID+" not found")
	}
	return h, nil
}

func outcomeView(o Outcome) OutcomeView {
	view := OutcomeView{
		TopicPath: o.Key(),
		Status:    store.RunStatusSucceeded,
	}
	if o.Err != nil {
		view.Status = store.RunStatusFailed
		view.ErrorCode = string(types.GetErrorCode(o.Err))
		view.Error = o.Err.Error()
		return view
	}
	if o.Node != nil {
		view.Samples = len(o.Node.Samples)
	}
	return view
}

package gen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/datamodel"
	"github.com/dataforge-ai/dataforge/store"
	"github.com/dataforge-ai/dataforge/types"
)

// fakeRunStore records persistence calls in memory.
type fakeRunStore struct {
	mu       sync.Mutex
	runs     map[string]*store.Run
	outcomes []store.RunOutcome
	finished map[string]string
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:     make(map[string]*store.Run),
		finished: make(map[string]string),
	}
}

func (f *fakeRunStore) CreateRun(ctx context.Context, run *store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunStore) FinishRun(ctx context.Context, id, status string, total, succeeded int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = status
	return nil
}

func (f *fakeRunStore) RecordOutcome(ctx context.Context, outcome *store.RunOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, *outcome)
	return nil
}

func (f *fakeRunStore) finishedStatus(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[id]
}

func (f *fakeRunStore) outcomeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}

func trainingInput() StartRunInput {
	topic, path := buildTree()
	return StartRunInput{
		Topic:   topic,
		Path:    path,
		Cascade: true,
		ModelID: "openai/gpt-4o",
		Kind:    datamodel.KindTraining,
	}
}

// waitForRun drains a subscription until the run completes.
func waitForRun(t *testing.T, svc *Service, runID string) []ProgressEvent {
	t.Helper()
	ch, cancel, err := svc.Subscribe(runID)
	require.NoError(t, err)
	defer cancel()

	var events []ProgressEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("run did not complete in time")
		}
	}
}

func TestService_StartRun_PreconditionError(t *testing.T) {
	gen := &mockGenerator{defaultItems: rawStrings("x")}
	svc := NewService(gen, nil, ServiceConfig{}, zap.NewNop())

	input := trainingInput()
	input.ModelID = "not-a-model-id"

	_, err := svc.StartRun(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, types.ErrPrecondition, types.GetErrorCode(err))
	assert.Equal(t, 0, gen.requestCount())
}

func TestService_StartRun_Succeeds(t *testing.T) {
	gen := &mockGenerator{defaultItems: rawStrings("one", "two")}
	st := newFakeRunStore()
	svc := NewService(gen, st, ServiceConfig{}, zap.NewNop())

	runID, err := svc.StartRun(context.Background(), trainingInput())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	waitForRun(t, svc, runID)

	view, err := svc.Get(runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusSucceeded, view.Status)
	assert.Equal(t, 2, view.Total) // two leaves: A and B
	assert.Equal(t, 2, view.Completed)
	assert.Equal(t, 2, view.Succeeded)
	require.NotNil(t, view.FinishedAt)
	require.Len(t, view.Outcomes, 2)
	for _, o := range view.Outcomes {
		assert.Equal(t, store.RunStatusSucceeded, o.Status)
		assert.Equal(t, 2, o.Samples)
	}

	// persistence
	assert.Equal(t, store.RunStatusSucceeded, st.finishedStatus(runID))
	assert.Equal(t, 2, st.outcomeCount())
}

func TestService_StartRun_PartialFailure(t *testing.T) {
	gen := &mockGenerator{
		defaultItems: rawStrings("ok"),
		respond: map[string]mockResponse{
			"root / B": {err: types.NewError(types.ErrUpstreamError, "task runner returned 500")},
		},
	}
	st := newFakeRunStore()
	svc := NewService(gen, st, ServiceConfig{}, zap.NewNop())

	runID, err := svc.StartRun(context.Background(), trainingInput())
	require.NoError(t, err)

	waitForRun(t, svc, runID)

	view, err := svc.Get(runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, view.Status)
	assert.Equal(t, 2, view.Completed)
	assert.Equal(t, 1, view.Succeeded)

	var failed *OutcomeView
	for i := range view.Outcomes {
		if view.Outcomes[i].Status == store.RunStatusFailed {
			failed = &view.Outcomes[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "root / B", failed.TopicPath)
	assert.Equal(t, string(types.ErrUpstreamError), failed.ErrorCode)

	assert.Equal(t, store.RunStatusFailed, st.finishedStatus(runID))
}

func TestService_Subscribe_StreamsOutcomes(t *testing.T) {
	gen := &mockGenerator{defaultItems: rawStrings("s"), delay: 10 * time.Millisecond}
	svc := NewService(gen, nil, ServiceConfig{}, zap.NewNop())

	runID, err := svc.StartRun(context.Background(), trainingInput())
	require.NoError(t, err)

	events := waitForRun(t, svc, runID)

	var outcomes, completes int
	for _, ev := range events {
		assert.Equal(t, runID, ev.RunID)
		assert.Equal(t, 2, ev.Total)
		switch ev.Type {
		case "outcome":
			outcomes++
		case "complete":
			completes++
		}
	}
	// Events may be dropped under backpressure, but the completion event
	// of a quiet run always arrives.
	assert.Equal(t, 1, completes)
	assert.LessOrEqual(t, outcomes, 2)
}

func TestService_Subscribe_FinishedRun(t *testing.T) {
	gen := &mockGenerator{defaultItems: rawStrings("s")}
	svc := NewService(gen, nil, ServiceConfig{}, zap.NewNop())

	runID, err := svc.StartRun(context.Background(), trainingInput())
	require.NoError(t, err)
	waitForRun(t, svc, runID)

	// Subscribing after completion yields one final event and a closed channel.
	ch, cancel, err := svc.Subscribe(runID)
	require.NoError(t, err)
	defer cancel()

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "complete", ev.Type)
	assert.Equal(t, store.RunStatusSucceeded, ev.Status)

	_, ok = <-ch
	assert.False(t, ok)
}

func TestService_Samples(t *testing.T) {
	gen := &mockGenerator{defaultItems: rawStrings("alpha", "beta")}
	svc := NewService(gen, nil, ServiceConfig{}, zap.NewNop())

	runID, err := svc.StartRun(context.Background(), trainingInput())
	require.NoError(t, err)
	waitForRun(t, svc, runID)

	samples, err := svc.Samples(runID)
	require.NoError(t, err)
	require.Len(t, samples, 4) // 2 leaves x 2 samples

	for _, s := range samples {
		assert.NotEmpty(t, s.TopicPath)
		assert.Equal(t, "gpt-4o", s.ModelName)
		assert.Equal(t, "openai", s.Provider)
		assert.Equal(t, "training", s.Kind)
	}
}

func TestService_Get_NotFound(t *testing.T) {
	svc := NewService(&mockGenerator{}, nil, ServiceConfig{}, zap.NewNop())

	_, err := svc.Get("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	_, _, err = svc.Subscribe("00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

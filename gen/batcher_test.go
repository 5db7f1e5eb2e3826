package gen

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/datamodel"
	"github.com/dataforge-ai/dataforge/taskrunner"
	"github.com/dataforge-ai/dataforge/types"
)

// mockGenerator records every request and serves canned per-topic responses.
type mockGenerator struct {
	mu       sync.Mutex
	requests []taskrunner.GenerateRequest

	// respond maps serialized topic path to a response; topics without an
	// entry get defaultItems/defaultErr.
	respond      map[string]mockResponse
	defaultItems []json.RawMessage
	defaultErr   error

	delay time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

type mockResponse struct {
	items []json.RawMessage
	err   error
}

func rawStrings(ss ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(ss))
	for i, s := range ss {
		b, _ := json.Marshal(s)
		out[i] = b
	}
	return out
}

func (m *mockGenerator) Generate(ctx context.Context, req taskrunner.GenerateRequest) ([]json.RawMessage, error) {
	cur := m.inflight.Add(1)
	for {
		max := m.maxInflight.Load()
		if cur <= max || m.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
	defer m.inflight.Add(-1)

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	resp, ok := m.respond[datamodel.TopicPath(req.TopicPath).String()]
	m.mu.Unlock()

	if ok {
		return resp.items, resp.err
	}
	return m.defaultItems, m.defaultErr
}

func (m *mockGenerator) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func floatPtr(f float64) *float64 { return &f }

func buildTree() (*datamodel.TopicNode, datamodel.TopicPath) {
	root := &datamodel.TopicNode{Label: "root"}
	root.AddChild("A")
	root.AddChild("B")
	return root, datamodel.TopicPath{"root"}
}

func TestBatcher_Preconditions(t *testing.T) {
	root, path := buildTree()

	tests := []struct {
		name string
		opts Options
	}{
		{"nil topic", Options{Path: path, ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining}},
		{"missing model id", Options{Topic: root, Path: path, Kind: datamodel.KindTraining}},
		{"unparseable model id", Options{Topic: root, Path: path, ModelID: "gpt-4o", Kind: datamodel.KindTraining}},
		{"missing kind", Options{Topic: root, Path: path, ModelID: "openai/gpt-4o"}},
		{"negative sample count", Options{Topic: root, Path: path, ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: -1}},
		{"temperature too high", Options{Topic: root, Path: path, ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, Temperature: floatPtr(2.5)}},
		{"negative temperature", Options{Topic: root, Path: path, ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, Temperature: floatPtr(-0.1)}},
		{"top_p too high", Options{Topic: root, Path: path, ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, TopP: floatPtr(1.1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockGenerator{defaultItems: rawStrings("x")}
			b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

			res, err := b.Run(context.Background(), tt.opts)

			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, types.IsPrecondition(err), "want precondition error, got %v", err)
			assert.Zero(t, mock.requestCount(), "no request may be issued on precondition failure")
		})
	}
}

func TestBatcher_NonCascade_SingleRequest(t *testing.T) {
	// The root has children, but without cascade the target set is {root}.
	root, path := buildTree()
	mock := &mockGenerator{defaultItems: rawStrings("s1", "s2")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	res, err := b.Run(context.Background(), Options{
		Topic: root, Path: path,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, mock.requestCount())
	assert.Equal(t, 1, res.Total)
	assert.True(t, res.FullySuccessful())
	assert.Len(t, root.Samples, 2, "samples append to the targeted node itself")
}

func TestBatcher_SamplingParams_PassedThrough(t *testing.T) {
	root, path := buildTree()
	mock := &mockGenerator{defaultItems: rawStrings("x")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	_, err := b.Run(context.Background(), Options{
		Topic: root, Path: path,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
		Temperature: floatPtr(0.2), TopP: floatPtr(0.9),
	})

	require.NoError(t, err)
	require.Equal(t, 1, mock.requestCount())
	assert.Equal(t, 0.2, mock.requests[0].Temperature)
	assert.Equal(t, 0.9, mock.requests[0].TopP)
}

func TestBatcher_SamplingParams_DefaultNeutral(t *testing.T) {
	root, path := buildTree()
	mock := &mockGenerator{defaultItems: rawStrings("x")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	_, err := b.Run(context.Background(), Options{
		Topic: root, Path: path,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
	})

	require.NoError(t, err)
	require.Equal(t, 1, mock.requestCount())
	assert.Equal(t, 1.0, mock.requests[0].Temperature)
	assert.Equal(t, 1.0, mock.requests[0].TopP)
}

func TestBatcher_Cascade_OneRequestPerLeaf(t *testing.T) {
	root := &datamodel.TopicNode{Label: "root"}
	a := root.AddChild("A")
	a.AddChild("A1")
	a.AddChild("A2")
	root.AddChild("B")

	mock := &mockGenerator{defaultItems: rawStrings("x")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	res, err := b.Run(context.Background(), Options{
		Topic: root, Path: datamodel.TopicPath{"root"}, Cascade: true,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, mock.requestCount(), "one request per leaf: A1, A2, B")
	assert.Equal(t, 3, res.Total)
	assert.Empty(t, a.Samples, "inner nodes receive no samples")
	assert.Len(t, root.Children[1].Samples, 1)
}

func TestBatcher_ConcurrencyBound(t *testing.T) {
	root := &datamodel.TopicNode{Label: "root"}
	for i := 0; i < 20; i++ {
		root.AddChild(string(rune('a' + i)))
	}

	mock := &mockGenerator{defaultItems: rawStrings("x"), delay: 10 * time.Millisecond}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	res, err := b.Run(context.Background(), Options{
		Topic: root, Path: datamodel.TopicPath{"root"}, Cascade: true,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
	})

	require.NoError(t, err)
	assert.Equal(t, 20, mock.requestCount())
	assert.Equal(t, 20, res.Total)
	assert.LessOrEqual(t, mock.maxInflight.Load(), int32(DefaultWorkers),
		"no more than %d requests may be pending at any instant", DefaultWorkers)
	assert.Greater(t, mock.maxInflight.Load(), int32(1), "workers run concurrently")
}

func TestBatcher_CompletionCallback(t *testing.T) {
	t.Run("fires exactly once when all succeed", func(t *testing.T) {
		root, path := buildTree()
		mock := &mockGenerator{defaultItems: rawStrings("x")}
		b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

		var fired atomic.Int32
		res, err := b.Run(context.Background(), Options{
			Topic: root, Path: path, Cascade: true,
			ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
			OnComplete: func() { fired.Add(1) },
		})

		require.NoError(t, err)
		assert.True(t, res.FullySuccessful())
		assert.Equal(t, int32(1), fired.Load())
	})

	t.Run("never fires when any topic fails", func(t *testing.T) {
		root, path := buildTree()
		mock := &mockGenerator{
			defaultItems: rawStrings("x"),
			respond: map[string]mockResponse{
				"root / B": {err: types.NewError(types.ErrUpstreamError, "boom")},
			},
		}
		b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

		var fired atomic.Int32
		res, err := b.Run(context.Background(), Options{
			Topic: root, Path: path, Cascade: true,
			ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
			OnComplete: func() { fired.Add(1) },
		})

		require.NoError(t, err)
		assert.False(t, res.FullySuccessful())
		assert.Equal(t, int32(0), fired.Load())
	})
}

// TestBatcher_PartialFailure covers the worked scenario: two leaf children
// "A" and "B", cascade, sample_count=2, model "openai/gpt-4o"; A returns two
// samples, B returns HTTP 500.
func TestBatcher_PartialFailure(t *testing.T) {
	root, path := buildTree()
	mock := &mockGenerator{
		respond: map[string]mockResponse{
			"root / A": {items: rawStrings("x", "y")},
			"root / B": {err: taskrunner.MapHTTPError(http.StatusInternalServerError, "boom", "openai")},
		},
	}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	res, err := b.Run(context.Background(), Options{
		Topic: root, Path: path, Cascade: true,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 2,
	})
	require.NoError(t, err)

	// Topic A gained 2 samples attributed to openai/gpt-4o, in order.
	nodeA := root.Children[0]
	require.Len(t, nodeA.Samples, 2)
	assert.Equal(t, "x", nodeA.Samples[0].Content)
	assert.Equal(t, "y", nodeA.Samples[1].Content)
	assert.Equal(t, "openai", nodeA.Samples[0].Provider)
	assert.Equal(t, "gpt-4o", nodeA.Samples[0].ModelName)
	assert.Nil(t, nodeA.Samples[0].SavedID)

	// B failed, A succeeded; the failed sibling never removed A's samples.
	assert.Equal(t, 1, res.FailedCount())
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "1 topics failed", res.Summary())
	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "root / B", failed[0].Key())
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(failed[0].Err))

	for _, o := range res.Outcomes {
		if o.Key() == "root / A" {
			assert.NoError(t, o.Err)
		}
	}
	assert.Empty(t, root.Children[1].Samples)
}

func TestBatcher_OutcomeErrClassification(t *testing.T) {
	// Outcome error is non-nil iff the topic's request failed transport,
	// validation, or shape checking.
	root := &datamodel.TopicNode{Label: "root"}
	root.AddChild("ok")
	root.AddChild("transport")
	root.AddChild("shape")

	mock := &mockGenerator{
		respond: map[string]mockResponse{
			"root / ok":        {items: rawStrings("x")},
			"root / transport": {err: types.NewError(types.ErrTransport, "conn refused").WithRetryable(true)},
			"root / shape":     {err: types.NewError(types.ErrShape, "no generated_samples")},
		},
	}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	res, err := b.Run(context.Background(), Options{
		Topic: root, Path: datamodel.TopicPath{"root"}, Cascade: true,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
	})
	require.NoError(t, err)

	byKey := map[string]Outcome{}
	for _, o := range res.Outcomes {
		byKey[o.Key()] = o
	}
	assert.NoError(t, byKey["root / ok"].Err)
	assert.Equal(t, types.ErrTransport, types.GetErrorCode(byKey["root / transport"].Err))
	assert.Equal(t, types.ErrShape, types.GetErrorCode(byKey["root / shape"].Err))
}

func TestBatcher_DefaultSampleCount(t *testing.T) {
	root := &datamodel.TopicNode{Label: "leaf"}
	mock := &mockGenerator{defaultItems: rawStrings("x")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	_, err := b.Run(context.Background(), Options{
		Topic: root, Path: datamodel.TopicPath{"leaf"},
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining,
	})
	require.NoError(t, err)

	require.Len(t, mock.requests, 1)
	assert.Equal(t, DefaultSampleCount, mock.requests[0].NumSamples)
}

func TestBatcher_GuidanceNormalized(t *testing.T) {
	root := &datamodel.TopicNode{Label: "leaf"}
	mock := &mockGenerator{defaultItems: rawStrings("x")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	_, err := b.Run(context.Background(), Options{
		Topic: root, Path: datamodel.TopicPath{"leaf"},
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
		Guidance: "   \n ",
	})
	require.NoError(t, err)
	assert.Equal(t, "", mock.requests[0].Guidance)
}

func TestBatcher_SkipsNullAndEmptyItems(t *testing.T) {
	root := &datamodel.TopicNode{Label: "leaf"}
	items := []json.RawMessage{
		json.RawMessage(`"keep"`),
		json.RawMessage(`null`),
		json.RawMessage(`""`),
		json.RawMessage(`{"q":"structured"}`),
	}
	mock := &mockGenerator{defaultItems: items}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	res, err := b.Run(context.Background(), Options{
		Topic: root, Path: datamodel.TopicPath{"leaf"},
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 4,
	})
	require.NoError(t, err)
	assert.True(t, res.FullySuccessful())

	require.Len(t, root.Samples, 2)
	assert.Equal(t, "keep", root.Samples[0].Content)
	assert.Equal(t, `{"q":"structured"}`, root.Samples[1].Content)
}

func TestBatcher_OutcomesResetBetweenRuns(t *testing.T) {
	root, path := buildTree()
	mock := &mockGenerator{
		defaultItems: rawStrings("x"),
		respond: map[string]mockResponse{
			"root / B": {err: types.NewError(types.ErrUpstreamError, "boom")},
		},
	}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())
	opts := Options{
		Topic: root, Path: path, Cascade: true,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
	}

	res1, err := b.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res1.FailedCount())

	// Fix B and re-run: the full target set is re-issued (previously
	// succeeded topics too, so A accumulates duplicate samples), and the
	// outcomes map reflects only the new run.
	mock.mu.Lock()
	mock.respond["root / B"] = mockResponse{items: rawStrings("b1")}
	mock.mu.Unlock()

	res2, err := b.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, res2.FullySuccessful())
	assert.Equal(t, 2, res2.Total)
	assert.Equal(t, 4, mock.requestCount(), "re-run re-issues every target, including previously-succeeded ones")
	assert.Len(t, root.Children[0].Samples, 2, "duplicate accumulation on re-run is not guarded")
}

func TestBatcher_OnOutcomeStreamsIncrementally(t *testing.T) {
	root, path := buildTree()
	mock := &mockGenerator{defaultItems: rawStrings("x")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	var mu sync.Mutex
	var seen []string
	res, err := b.Run(context.Background(), Options{
		Topic: root, Path: path, Cascade: true,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
		OnOutcome: func(o Outcome) {
			mu.Lock()
			seen = append(seen, o.Key())
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.ElementsMatch(t, []string{"root / A", "root / B"}, seen)
}

func TestBatcher_SnapshotAfterRun(t *testing.T) {
	root, path := buildTree()
	mock := &mockGenerator{defaultItems: rawStrings("x")}
	b := NewBatcher(mock, DefaultBatcherConfig(), zap.NewNop())

	_, err := b.Run(context.Background(), Options{
		Topic: root, Path: path, Cascade: true,
		ModelID: "openai/gpt-4o", Kind: datamodel.KindTraining, SampleCount: 1,
	})
	require.NoError(t, err)

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "root / A", snap[0].Key(), "snapshot is ordered by topic key")
	assert.Equal(t, "root / B", snap[1].Key())
}

// recordingObserver implements Observer and TokenRecorder.
type recordingObserver struct {
	mu     sync.Mutex
	calls  int
	tokens map[string]int // "provider/model" -> total estimated tokens
}

func (r *recordingObserver) ObserveGeneration(provider, model, status string, duration time.Duration, samples int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *recordingObserver) RecordEstimatedTokens(provider, model string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		r.tokens = make(map[string]int)
	}
	r.tokens[provider+"/"+model] += tokens
}

// fixedCounter returns the same token count for every sample.
type fixedCounter struct{ n int }

func (f fixedCounter) Count(string) (int, error) { return f.n, nil }

func TestBatcher_ReportsEstimatedTokens(t *testing.T) {
	root := &datamodel.TopicNode{Label: "root"}
	child := root.AddChild("A")

	mock := &mockGenerator{
		respond: map[string]mockResponse{
			"root / A": {items: rawStrings("one", "two")},
		},
	}
	obs := &recordingObserver{}
	b := NewBatcher(mock, BatcherConfig{Observer: obs}, zap.NewNop())

	b.processTopic(context.Background(), datamodel.Target{
		Node: child,
		Path: datamodel.TopicPath{"root", "A"},
	}, runParams{
		config:      datamodel.DefaultRunConfig("openai", "gpt-4o"),
		sampleCount: 2,
		kind:        datamodel.KindTraining,
		estimator:   fixedCounter{n: 3},
	})

	// 2 samples at 3 tokens each.
	assert.Equal(t, 6, obs.tokens["openai/gpt-4o"])
	assert.Equal(t, 1, obs.calls)
	require.Len(t, child.Samples, 2)
	assert.Equal(t, 3, child.Samples[0].TokenCount)
}

func TestBatcher_NoTokenReportWithoutEstimator(t *testing.T) {
	root := &datamodel.TopicNode{Label: "root"}
	child := root.AddChild("A")

	mock := &mockGenerator{
		respond: map[string]mockResponse{
			"root / A": {items: rawStrings("one")},
		},
	}
	obs := &recordingObserver{}
	b := NewBatcher(mock, BatcherConfig{Observer: obs}, zap.NewNop())

	b.processTopic(context.Background(), datamodel.Target{
		Node: child,
		Path: datamodel.TopicPath{"root", "A"},
	}, runParams{
		config:      datamodel.DefaultRunConfig("openai", "gpt-4o"),
		sampleCount: 1,
		kind:        datamodel.KindTraining,
	})

	assert.Empty(t, obs.tokens)
	assert.Equal(t, 1, obs.calls)
}

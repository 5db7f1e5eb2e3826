// Package dataforge provides a top-level convenience entry point for running
// sample generation batches with minimal boilerplate.
//
// Usage:
//
//	import "github.com/dataforge-ai/dataforge"
//
//	b, err := dataforge.New(dataforge.WithTaskRunner("http://localhost:8337"))
//	result, err := b.Run(ctx, gen.Options{
//		Topic:   tree,
//		Path:    datamodel.TopicPath{tree.Label},
//		Cascade: true,
//		ModelID: "openai/gpt-4o",
//		Kind:    datamodel.KindTraining,
//	})
//
// This is a thin wrapper around [gen.NewBatcher] and [taskrunner.New]; use the
// packages directly when you need a custom Generator or run persistence.
package dataforge

import (
	"time"

	"go.uber.org/zap"

	"github.com/dataforge-ai/dataforge/gen"
	"github.com/dataforge-ai/dataforge/taskrunner"
	"github.com/dataforge-ai/dataforge/types"
)

// Option configures the batcher created by [New].
type Option func(*builder)

type builder struct {
	runner    taskrunner.Config
	generator gen.Generator
	batch     gen.BatcherConfig
	logger    *zap.Logger
}

// WithTaskRunner points the batcher at a task-runner service.
func WithTaskRunner(baseURL string) Option {
	return func(b *builder) { b.runner.BaseURL = baseURL }
}

// WithAPIKey sets the bearer token for the task-runner.
func WithAPIKey(key string) Option {
	return func(b *builder) { b.runner.APIKey = key }
}

// WithTimeout sets the task-runner HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *builder) { b.runner.Timeout = d }
}

// WithGenerator sets a pre-built generator, bypassing the task-runner client.
func WithGenerator(g gen.Generator) Option {
	return func(b *builder) { b.generator = g }
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) Option {
	return func(b *builder) { b.batch.Workers = n }
}

// WithObserver registers a per-request measurement observer.
func WithObserver(o gen.Observer) Option {
	return func(b *builder) { b.batch.Observer = o }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// New creates a [gen.Batcher] with minimal configuration. At minimum a
// task-runner must be reachable via [WithTaskRunner], or a custom generator
// supplied via [WithGenerator].
func New(opts ...Option) (*gen.Batcher, error) {
	b := builder{batch: gen.DefaultBatcherConfig()}
	for _, opt := range opts {
		opt(&b)
	}

	generator := b.generator
	if generator == nil {
		if b.runner.BaseURL == "" {
			return nil, types.NewError(types.ErrPrecondition, "a task-runner URL or a generator is required")
		}
		generator = taskrunner.New(b.runner, b.logger)
	}

	return gen.NewBatcher(generator, b.batch, b.logger), nil
}

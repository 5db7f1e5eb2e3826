// Package catalog holds the built-in model catalog — the models dataforge
// knows how to drive for synthetic data generation, with their providers and
// capability flags — plus a Redis-backed cache for the model list the
// task-runner reports at runtime.
package catalog

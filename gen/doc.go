// Package gen implements the synthetic sample generation batcher: a bounded
// fan-out of generation requests over the leaf topics of a taxonomy subtree.
//
// A fixed pool of workers drains a shared FIFO queue of target topics, issuing
// one generation call per topic. Per-topic failures are recorded and never
// abort sibling topics; the run's completion callback fires only when every
// topic succeeded. The outcomes map is owned by the batcher, mutated at a
// single designated point, and observable mid-run through read-only snapshots.
package gen

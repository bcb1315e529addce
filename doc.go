// Package hydra is a distributed consumer coordinator for a partitioned,
// ordered streaming log modeled on Kinesis. A fleet of peer worker
// processes sharing the same application name cooperatively consume the
// stream: every shard is owned by exactly one worker at a time, ownership
// redistributes smoothly as workers join or leave, and each worker emits
// consumed records to its host through a bounded channel.
//
// The core of this package is the coordination plane: worker membership
// maintenance (internal/registry), Maglev-style consistent-hash shard
// assignment (internal/sharder), and the concurrent lifecycle
// (Coordinator) that binds the two to a caller-supplied consumer.Adapter.
// The low-level per-shard fetch loop, record acknowledgement, and durable
// checkpoint format are the adapter's concern, not this package's.
package hydra

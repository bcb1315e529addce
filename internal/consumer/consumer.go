// Package consumer defines the consumer adapter contract of SPEC_FULL.md
// 4.D — the capability set {set_shards, run, output} a host plugs into the
// Coordinator — and a reference in-memory implementation used by tests and
// by cmd/hydra-worker's demo mode.
//
// The adapter is the boundary past which hydra's core does not reach: the
// actual per-shard Kinesis fetch loop and record acknowledgement are
// explicit non-goals (spec.md section 1) and are the adapter's concern, not
// this package's.
package consumer

import (
	"context"
	"time"
)

// Record is one record delivered to the host through the bounded output
// channel (spec.md section 3, "Bounded channel"; corresponds to
// ConsumedRecord in original_source/hydra/src/core/config.rs).
type Record struct {
	ShardID        string
	SequenceNumber string
	Data           []byte
	// ApproximateArrivalTime is the upstream service's estimate of when the
	// record was produced, used by Callbacks.EventToClient for lag
	// measurement (spec.md section 4.F).
	ApproximateArrivalTime time.Time
}

// Adapter is the capability set the Coordinator depends on. Implementations
// are interchangeable; the core depends only on this contract (spec.md
// section 9, "Dynamic dispatch of the consumer adapter").
type Adapter interface {
	// SetShards idempotently instructs the adapter which shards to
	// actively consume. Implementations must start fetchers for newly
	// added shards and stop fetchers for removed ones without losing
	// in-flight records of surviving shards.
	SetShards(ctx context.Context, owned map[string]struct{}) error

	// Run is long-running and terminates only on context cancellation or a
	// fatal error. checkpointsTable and streamHandle are passed through
	// from the Coordinator's configuration and startup probe respectively.
	Run(ctx context.Context, checkpointsTable string, streamHandle string) error

	// Output returns the channel end the adapter writes records to. The
	// Coordinator holds the receive end.
	Output() <-chan Record
}

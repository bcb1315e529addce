package hydra

import (
	"fmt"
	"time"

	"github.com/estuary/hydra/internal/awsiface"
	"github.com/estuary/hydra/internal/consumer"
	"github.com/estuary/hydra/internal/herrors"
	"github.com/estuary/hydra/internal/registry"
)

// Heartbeat is H, the heartbeat period of spec.md section 6.
const Heartbeat = 5 * time.Second

// LivenessWindow is 3*H, the window past which a ClientRecord is
// considered stale.
const LivenessWindow = 3 * Heartbeat

// Callbacks are optional host-supplied sinks (spec.md section 4.F). Both
// are invoked from the task that observed the event; they must be
// non-blocking or the host accepts the risk of stalling that task.
type Callbacks struct {
	// EventToClient is invoked once per record delivered to the host
	// channel, receiving the record's approximate server time and the
	// local receive time, enabling lag measurement.
	EventToClient func(approxServerTime, localReceiveTime time.Time)
	// RuntimeError is invoked on every non-fatal error surfaced by any
	// component.
	RuntimeError func(error)
}

func (c Callbacks) fireEventToClient(approxServerTime, localReceiveTime time.Time) {
	if c.EventToClient != nil {
		c.EventToClient(approxServerTime, localReceiveTime)
	}
}

func (c Callbacks) fireRuntimeError(err error) {
	if c.RuntimeError != nil && err != nil {
		c.RuntimeError(err)
	}
}

// Config is the host-facing configuration record (spec.md section 6).
type Config struct {
	// BufferSize is the capacity of the bounded output channel. Must be
	// positive.
	BufferSize int
	// StreamName is the name of the Kinesis-shaped stream to consume.
	StreamName string
	// CheckpointsTableName names the table the consumer adapter uses for
	// checkpoints. Its schema is the adapter's concern; the coordinator
	// only verifies the table exists and is ready.
	CheckpointsTableName string
	// ClientsTableName names the DynamoDB-shaped clients table backing the
	// client registry.
	ClientsTableName string
	// ApplicationName identifies the logical application this worker
	// belongs to, used only for logging and metrics labels.
	ApplicationName string
	// WorkerID is this process's stable, unique identity.
	WorkerID string

	// Consumer is the pluggable downstream record consumer.
	Consumer consumer.Adapter

	// MetadataClient is the DynamoDB-shaped metadata store client.
	MetadataClient awsiface.DynamoClient
	// StreamClient is the Kinesis-shaped stream service client.
	StreamClient awsiface.KinesisClient

	// Callbacks are optional host-supplied sinks.
	Callbacks Callbacks

	// Heartbeat overrides the default heartbeat period H; zero uses the
	// package default of 5 seconds.
	Heartbeat time.Duration
	// ShutdownGrace bounds how long the coordinator waits for the
	// registration and consumer tasks to exit after a fatal error before
	// giving up and returning anyway; zero uses a 10 second default.
	ShutdownGrace time.Duration
}

// Validate checks the configuration fields the startup phase of spec.md
// 4.E requires to be present: non-empty table names and stream name,
// BufferSize > 0, worker id non-empty.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize))
	}
	if c.StreamName == "" {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("stream_name is empty"))
	}
	if c.CheckpointsTableName == "" {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("checkpoints_table_name is empty"))
	}
	if c.ClientsTableName == "" {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("clients_table_name is empty"))
	}
	if c.WorkerID == "" {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("worker_id is empty"))
	}
	if c.Consumer == nil {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("consumer adapter is nil"))
	}
	if c.MetadataClient == nil {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("metadata_client is nil"))
	}
	if c.StreamClient == nil {
		return herrors.New(herrors.ConfigInvalid, "Validate", fmt.Errorf("stream_client is nil"))
	}
	return nil
}

func (c Config) heartbeat() time.Duration {
	if c.Heartbeat > 0 {
		return c.Heartbeat
	}
	return Heartbeat
}

func (c Config) shutdownGrace() time.Duration {
	if c.ShutdownGrace > 0 {
		return c.ShutdownGrace
	}
	return 10 * time.Second
}

func (c Config) workerID() registry.WorkerID { return registry.WorkerID(c.WorkerID) }

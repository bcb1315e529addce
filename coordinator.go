package hydra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nsf/jsondiff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/estuary/hydra/internal/consumer"
	"github.com/estuary/hydra/internal/herrors"
	"github.com/estuary/hydra/internal/registry"
	"github.com/estuary/hydra/internal/sharder"
	"github.com/estuary/hydra/internal/stream"
	"github.com/estuary/hydra/internal/telemetry"
)

// Coordinator orchestrates the client registry, sharder, stream metadata
// probe, and consumer adapter per SPEC_FULL.md 4.E: it gates startup on
// readiness probes, then concurrently runs the registration, rebalance,
// and consumer tasks until cancelled.
type Coordinator struct {
	cfg    Config
	logger *telemetry.Logger

	registry *registry.Registry
	sharder  *sharder.Sharder
	probe    *stream.Probe

	streamHandle stream.Handle
	out          chan consumer.Record
}

// New constructs a Coordinator from cfg. Configuration is validated but no
// I/O is performed; call Init to run the startup readiness probes.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var logger = telemetry.NewLogger(cfg.ApplicationName, cfg.WorkerID)

	reg, err := registry.New(registry.Config{
		Table:     cfg.ClientsTableName,
		WorkerID:  cfg.workerID(),
		Heartbeat: cfg.heartbeat(),
		Client:    cfg.MetadataClient,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	probe, err := stream.New(stream.Config{
		StreamName: cfg.StreamName,
		Client:     cfg.StreamClient,
		CacheTTL:   cfg.heartbeat(),
	})
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		sharder:  sharder.New(cfg.workerID()),
		probe:    probe,
		out:      make(chan consumer.Record, cfg.BufferSize),
	}, nil
}

// Init validates readiness of the checkpoints table, the clients table, and
// the stream, concurrently, per spec.md 4.E startup. All three must
// resolve before Init succeeds; the stream's handle is captured on
// success.
func (c *Coordinator) Init(ctx context.Context) error {
	var grp, grpCtx = errgroup.WithContext(ctx)

	grp.Go(func() error {
		return dynamoTableReady(grpCtx, c.cfg.MetadataClient, c.cfg.CheckpointsTableName)
	})
	grp.Go(func() error {
		return dynamoTableReady(grpCtx, c.cfg.MetadataClient, c.cfg.ClientsTableName)
	})

	var handle stream.Handle
	grp.Go(func() error {
		var h, err = c.probe.DescribeStream(grpCtx)
		handle = h
		return err
	})

	if err := grp.Wait(); err != nil {
		c.logger.WithError(err).Error("startup readiness probe failed")
		return err
	}

	c.streamHandle = handle
	c.logger.WithField("stream_handle", string(handle)).Info("hydra coordinator initialized")
	return nil
}

// Output returns the receiving end of the bounded output channel
// (spec.md 4.D / 4.F).
func (c *Coordinator) Output() <-chan consumer.Record { return c.out }

// Run spawns the registration, consumer, and rebalance tasks and blocks
// until ctx is cancelled or one of them returns a fatal error. On a fatal
// error it cancels the remaining tasks and waits up to Config.ShutdownGrace
// for them to exit before returning anyway. Cancellation is never surfaced
// as an error (spec.md section 7).
func (c *Coordinator) Run(parent context.Context) error {
	var grp, runCtx = errgroup.WithContext(parent)

	grp.Go(func() error { return c.registry.Run(runCtx, c.onRuntimeError) })
	grp.Go(func() error { return c.runConsumerTask(runCtx) })
	grp.Go(func() error { return c.runRebalanceTask(runCtx) })

	var waitDone = make(chan error, 1)
	go func() { waitDone <- grp.Wait() }()

	select {
	case err := <-waitDone:
		return normalizeRunErr(err)
	case <-runCtx.Done():
		select {
		case err := <-waitDone:
			return normalizeRunErr(err)
		case <-time.After(c.cfg.shutdownGrace()):
			c.logger.Warn("shutdown grace period elapsed before all tasks confirmed exit")
			return normalizeRunErr(context.Cause(runCtx))
		}
	}
}

func normalizeRunErr(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runConsumerTask invokes the adapter's Run and, concurrently, pumps
// records from the adapter's Output() into the coordinator's own bounded
// channel, firing Callbacks.EventToClient per record. It is the sole
// closer of c.out, satisfying "the channel sender is dropped after the
// consumer task exits" (spec.md 4.E shutdown).
func (c *Coordinator) runConsumerTask(ctx context.Context) error {
	defer close(c.out)

	var pumpDone = make(chan struct{})
	go func() {
		defer close(pumpDone)
		for record := range c.cfg.Consumer.Output() {
			c.deliver(record)
		}
	}()

	var err = c.cfg.Consumer.Run(ctx, c.cfg.CheckpointsTableName, string(c.streamHandle))
	<-pumpDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return herrors.New(herrors.ConsumerFatal, "consumer.Run", err)
	}
	return nil
}

// deliver forwards one record to the host channel, blocking if the host is
// draining slowly. This is the sole backpressure mechanism (spec.md
// section 5): the core never drops records.
func (c *Coordinator) deliver(record consumer.Record) {
	var localReceive = time.Now()
	c.out <- record
	telemetry.OutputChannelDepth.Set(float64(len(c.out)))
	c.cfg.Callbacks.fireEventToClient(record.ApproximateArrivalTime, localReceive)
}

// runRebalanceTask implements the rebalance loop of spec.md 4.E: the first
// tick fires immediately, then once per Heartbeat period it lists live
// peers, lists current shards, recomputes the owned set, and pushes it to
// the adapter if it changed.
func (c *Coordinator) runRebalanceTask(ctx context.Context) error {
	var ticker = time.NewTicker(c.cfg.heartbeat())
	defer ticker.Stop()

	var lastOwned map[string]struct{}

	if err := c.rebalancePass(ctx, &lastOwned); err != nil {
		c.onRuntimeError(err)
	}

	for {
		select {
		case <-ticker.C:
			if err := c.rebalancePass(ctx, &lastOwned); err != nil {
				c.onRuntimeError(err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Coordinator) rebalancePass(ctx context.Context, lastOwned *map[string]struct{}) error {
	var start = time.Now()
	defer func() { telemetry.RebalanceDuration.Observe(time.Since(start).Seconds()) }()

	peers, err := c.registry.ListLive(ctx)
	if err != nil {
		telemetry.RebalancePassesTotal.WithLabelValues("error").Inc()
		return herrors.New(herrors.AssignmentFailed, "rebalance.ListLive", err)
	}

	shardIDs, err := c.probe.ListShards(ctx, c.streamHandle)
	if err != nil {
		telemetry.RebalancePassesTotal.WithLabelValues("error").Inc()
		return herrors.New(herrors.AssignmentFailed, "rebalance.ListShards", err)
	}

	var clientIDs = make([]registry.WorkerID, len(peers))
	for i, p := range peers {
		clientIDs[i] = p.ID
	}

	var owned = c.sharder.OwnedShards(clientIDs, shardIDs)

	telemetry.LivePeers.Set(float64(len(peers)))
	telemetry.OwnedShards.Set(float64(len(owned)))

	if !sameShardSet(*lastOwned, owned) {
		c.logOwnedSetChange(*lastOwned, owned)
		if err := c.cfg.Consumer.SetShards(ctx, owned); err != nil {
			telemetry.RebalancePassesTotal.WithLabelValues("error").Inc()
			return herrors.New(herrors.AssignmentFailed, "rebalance.SetShards", err)
		}
		*lastOwned = owned
	}

	telemetry.RebalancePassesTotal.WithLabelValues("ok").Inc()
	return nil
}

// onRuntimeError logs a non-fatal error and forwards it to the host's
// RuntimeError callback, if any (spec.md section 4.F / 7 propagation
// policy).
func (c *Coordinator) onRuntimeError(err error) {
	if err == nil {
		return
	}
	c.logger.WithError(err).Warn("non-fatal runtime error")
	c.cfg.Callbacks.fireRuntimeError(err)
}

// logOwnedSetChange renders a human-readable diff of the owned set between
// rebalance passes using nsf/jsondiff, purely for debug-level operator
// visibility; the Sharder itself stays a pure function untouched by this.
func (c *Coordinator) logOwnedSetChange(prev, next map[string]struct{}) {
	var prevJSON, _ = json.Marshal(sortedShardIDs(prev))
	var nextJSON, _ = json.Marshal(sortedShardIDs(next))

	var opts = jsondiff.DefaultConsoleOptions()
	var _, rendered = jsondiff.Compare(prevJSON, nextJSON, &opts)

	c.logger.WithFields(logrus.Fields{
		"owned_shard_count": len(next),
	}).Debugf("shard assignment changed: %s", rendered)
}

func sortedShardIDs(set map[string]struct{}) []string {
	var out = make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sameShardSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// dynamoTableReady probes a DynamoDB-shaped table for existence and an
// ACTIVE/UPDATING status, mirroring ddb_table_ready in
// original_source/hydra/src/core/consumer.rs.
func dynamoTableReady(ctx context.Context, client interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}, tableName string) error {
	var resp, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &tableName})
	if err != nil {
		return herrors.New(herrors.MetadataUnavailable, "DescribeTable", fmt.Errorf("table %q: %w", tableName, err))
	}
	if resp.Table == nil || resp.Table.TableStatus == "" {
		return herrors.New(herrors.MetadataUnavailable, "DescribeTable", fmt.Errorf("table %q has no status", tableName))
	}

	switch resp.Table.TableStatus {
	case types.TableStatusActive, types.TableStatusUpdating:
		return nil
	default:
		return herrors.New(herrors.MetadataUnavailable, "DescribeTable", fmt.Errorf("table %q is in status %s", tableName, resp.Table.TableStatus))
	}
}

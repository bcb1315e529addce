// Package stream implements the stream metadata probe of SPEC_FULL.md 4.C:
// resolving a Kinesis-shaped stream's handle and enumerating its shards.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/estuary/hydra/internal/awsiface"
	"github.com/estuary/hydra/internal/herrors"
)

// Handle is the opaque stream identifier returned by DescribeStream, required by
// downstream fetch calls (spec.md Glossary, "Stream handle").
type Handle string

// Config configures a Probe instance.
type Config struct {
	// StreamName is the Kinesis-shaped stream's name.
	StreamName string
	// Client is the Kinesis client used to describe the stream and list
	// its shards.
	Client awsiface.KinesisClient
	// CacheTTL bounds how long a successful ListShards result may be
	// reused before a fresh call is made; zero disables caching.
	CacheTTL time.Duration
}

// Probe resolves a stream's handle and enumerates its shards.
type Probe struct {
	cfg   Config
	cache *lru.Cache[string, shardListEntry]
}

type shardListEntry struct {
	ids      []string
	fetchedAt time.Time
}

// New constructs a Probe. StreamName must be non-empty.
func New(cfg Config) (*Probe, error) {
	if cfg.StreamName == "" {
		return nil, herrors.New(herrors.ConfigInvalid, "stream.New", fmt.Errorf("stream name is empty"))
	}

	var p = &Probe{cfg: cfg}
	if cfg.CacheTTL > 0 {
		// One Probe serves exactly one stream, so one entry would suffice;
		// a small four-entry cache (rather than a single field) keeps room
		// for a Probe to outlive a stream rename without a separate reset path.
		c, err := lru.New[string, shardListEntry](4)
		if err != nil {
			return nil, err
		}
		p.cache = c
	}
	return p, nil
}

// readyStatuses are the only stream statuses the coordinator will proceed
// with (spec.md section 4.C and section 6).
var readyStatuses = map[types.StreamStatus]bool{
	types.StreamStatusActive:   true,
	types.StreamStatusUpdating: true,
}

// DescribeStream resolves the stream's handle and readiness. Any status
// other than ACTIVE or UPDATING fails with herrors.StreamNotReady,
// mirroring kinesis_stream_ready in original_source/hydra/src/core/consumer.rs.
func (p *Probe) DescribeStream(ctx context.Context) (Handle, error) {
	resp, err := p.cfg.Client.DescribeStream(ctx, &kinesis.DescribeStreamInput{
		StreamName: &p.cfg.StreamName,
	})
	if err != nil {
		return "", herrors.New(herrors.StreamNotReady, "DescribeStream", err)
	}
	if resp.StreamDescription == nil {
		return "", herrors.New(herrors.StreamNotReady, "DescribeStream", fmt.Errorf("no stream description returned for %q", p.cfg.StreamName))
	}

	var status = resp.StreamDescription.StreamStatus
	if !readyStatuses[status] {
		return "", herrors.New(herrors.StreamNotReady, "DescribeStream", fmt.Errorf("stream %q is in status %s", p.cfg.StreamName, status))
	}

	var arn = ""
	if resp.StreamDescription.StreamARN != nil {
		arn = *resp.StreamDescription.StreamARN
	}
	if arn == "" {
		return "", herrors.New(herrors.StreamNotReady, "DescribeStream", fmt.Errorf("stream %q has no ARN", p.cfg.StreamName))
	}
	return Handle(arn), nil
}

// ListShards returns the current shard id set for the given handle. It may
// be called repeatedly; results are served from a short-lived cache when
// Config.CacheTTL is set, so that a racing rebalance tick doesn't pile up
// redundant ListShards calls against the stream service.
func (p *Probe) ListShards(ctx context.Context, handle Handle) ([]string, error) {
	if p.cache != nil {
		if entry, ok := p.cache.Get(string(handle)); ok {
			if time.Since(entry.fetchedAt) < p.cfg.CacheTTL {
				return entry.ids, nil
			}
		}
	}

	var ids []string
	var paginator = kinesis.NewListShardsPaginator(p.cfg.Client, &kinesis.ListShardsInput{
		StreamName: &p.cfg.StreamName,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, herrors.New(herrors.AssignmentFailed, "ListShards", err)
		}
		for _, shard := range page.Shards {
			if shard.ShardId != nil {
				ids = append(ids, *shard.ShardId)
			}
		}
	}

	if p.cache != nil {
		p.cache.Add(string(handle), shardListEntry{ids: ids, fetchedAt: time.Now()})
	}
	return ids, nil
}

package consumer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryAdapter is a reference Adapter that synthesizes records for its
// currently-owned shards on a ticker rather than reading a real Kinesis
// stream (the per-shard fetch loop is an explicit non-goal of this module,
// spec.md section 1). It is the adapter cmd/hydra-worker runs; the
// coordinator's own tests use a separate fake adapter.
//
// When constructed with a non-empty checkpoint database path, it persists
// the last sequence number synthesized per shard to a local SQLite
// database. This is illustrative only, not a contract: the durable
// checkpoint format is a non-goal delegated entirely to real adapters
// (spec.md section 1).
type MemoryAdapter struct {
	interval time.Duration
	out      chan Record

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup

	db *sql.DB
}

// NewMemoryAdapter constructs a MemoryAdapter with the given output buffer
// size and synthesis interval. If checkpointDBPath is non-empty, a SQLite
// database is opened there to record per-shard progress.
func NewMemoryAdapter(bufferSize int, interval time.Duration, checkpointDBPath string) (*MemoryAdapter, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	var a = &MemoryAdapter{
		interval: interval,
		out:      make(chan Record, bufferSize),
		cancels:  make(map[string]context.CancelFunc),
	}

	if checkpointDBPath != "" {
		db, err := sql.Open("sqlite3", checkpointDBPath)
		if err != nil {
			return nil, fmt.Errorf("opening checkpoint database: %w", err)
		}
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS shard_checkpoints (
			shard_id TEXT PRIMARY KEY,
			sequence_number TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating checkpoint table: %w", err)
		}
		a.db = db
	}

	return a, nil
}

// Output returns the record channel.
func (a *MemoryAdapter) Output() <-chan Record { return a.out }

// SetShards starts a synthetic fetcher for each newly owned shard and
// cancels the fetcher of any shard no longer owned, leaving fetchers of
// surviving shards untouched.
func (a *MemoryAdapter) SetShards(ctx context.Context, owned map[string]struct{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for shardID, cancel := range a.cancels {
		if _, ok := owned[shardID]; !ok {
			cancel()
			delete(a.cancels, shardID)
		}
	}

	for shardID := range owned {
		if _, ok := a.cancels[shardID]; ok {
			continue
		}
		var fetchCtx, cancel = context.WithCancel(ctx)
		a.cancels[shardID] = cancel

		a.wg.Add(1)
		go a.fetchShard(fetchCtx, shardID)
	}

	return nil
}

// Run blocks until ctx is cancelled, then stops every shard fetcher,
// drains their goroutines, and closes the output channel.
func (a *MemoryAdapter) Run(ctx context.Context, checkpointsTable string, streamHandle string) error {
	<-ctx.Done()

	a.mu.Lock()
	for shardID, cancel := range a.cancels {
		cancel()
		delete(a.cancels, shardID)
	}
	a.mu.Unlock()

	a.wg.Wait()
	close(a.out)

	if a.db != nil {
		_ = a.db.Close()
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (a *MemoryAdapter) fetchShard(ctx context.Context, shardID string) {
	defer a.wg.Done()

	var ticker = time.NewTicker(a.interval)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			seq++
			var record = Record{
				ShardID:                shardID,
				SequenceNumber:         fmt.Sprintf("%d", seq),
				Data:                   []byte(fmt.Sprintf("synthetic-record-%d", seq)),
				ApproximateArrivalTime: now,
			}

			select {
			case a.out <- record:
			case <-ctx.Done():
				return
			}

			a.checkpoint(shardID, record.SequenceNumber)
		}
	}
}

func (a *MemoryAdapter) checkpoint(shardID, sequenceNumber string) {
	if a.db == nil {
		return
	}
	_, _ = a.db.Exec(
		`INSERT INTO shard_checkpoints (shard_id, sequence_number, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(shard_id) DO UPDATE SET sequence_number = excluded.sequence_number, updated_at = excluded.updated_at`,
		shardID, sequenceNumber, time.Now(),
	)
}

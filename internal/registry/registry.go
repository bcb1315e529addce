// Package registry implements the client registry of SPEC_FULL.md 4.A: it
// records this worker's liveness in a DynamoDB-shaped clients table and
// enumerates live peers for the sharder.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/estuary/hydra/internal/awsiface"
	"github.com/estuary/hydra/internal/herrors"
	"github.com/estuary/hydra/internal/telemetry"
)

// WorkerID is an opaque, non-empty, process-stable identifier, unique
// within the application (spec.md section 3, "Worker identity").
type WorkerID string

// Record is one peer's most recent heartbeat (spec.md section 3,
// "ClientRecord").
type Record struct {
	ID         WorkerID
	LastUpdate time.Time
}

// Config configures a Registry instance.
type Config struct {
	// Table is the name of the clients table.
	Table string
	// WorkerID is this process's identity.
	WorkerID WorkerID
	// Heartbeat is H, the heartbeat period. Liveness window is 3*Heartbeat.
	Heartbeat time.Duration
	// Client is the DynamoDB client used to read and write the table.
	Client awsiface.DynamoClient
	// Logger receives structured log lines for registration events.
	Logger *telemetry.Logger
}

// Registry maintains this worker's presence in the clients table and
// enumerates peers.
type Registry struct {
	cfg Config
}

// New constructs a Registry. Table and WorkerID must be non-empty and
// Heartbeat must be positive.
func New(cfg Config) (*Registry, error) {
	if cfg.Table == "" {
		return nil, herrors.New(herrors.ConfigInvalid, "registry.New", fmt.Errorf("clients table name is empty"))
	}
	if cfg.WorkerID == "" {
		return nil, herrors.New(herrors.ConfigInvalid, "registry.New", fmt.Errorf("worker id is empty"))
	}
	if cfg.Heartbeat <= 0 {
		return nil, herrors.New(herrors.ConfigInvalid, "registry.New", fmt.Errorf("heartbeat period must be positive"))
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewLogger("", string(cfg.WorkerID))
	}
	return &Registry{cfg: cfg}, nil
}

// livenessWindow is the 3*H window past which a ClientRecord is considered
// stale (spec.md section 3).
func (r *Registry) livenessWindow() time.Duration { return 3 * r.cfg.Heartbeat }

// RegisterSelf upserts this worker's ClientRecord with a fresh LastUpdate
// and a TTL of now+3H. Conditional correctness is not required: only this
// worker ever writes its own key, so last-writer-wins is safe.
func (r *Registry) RegisterSelf(ctx context.Context) error {
	var now = time.Now().UTC()
	var ttl = now.Add(r.livenessWindow()).Unix()

	_, err := r.cfg.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &r.cfg.Table,
		Key: map[string]types.AttributeValue{
			"ID": &types.AttributeValueMemberS{Value: string(r.cfg.WorkerID)},
		},
		UpdateExpression: awsStringPtr("SET LastUpdate = :lu, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lu":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
	})
	if err != nil {
		return herrors.New(herrors.RegistrationFailed, "RegisterSelf", err)
	}
	return nil
}

// DeregisterSelf deletes this worker's ClientRecord.
func (r *Registry) DeregisterSelf(ctx context.Context) error {
	_, err := r.cfg.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &r.cfg.Table,
		Key: map[string]types.AttributeValue{
			"ID": &types.AttributeValueMemberS{Value: string(r.cfg.WorkerID)},
		},
	})
	if err != nil {
		return herrors.New(herrors.RegistrationFailed, "DeregisterSelf", err)
	}
	return nil
}

// ListLive performs a strongly consistent full scan of the clients table,
// drops records older than the liveness window, and returns the survivors
// sorted ascending by ID (spec.md section 4.A).
func (r *Registry) ListLive(ctx context.Context) ([]Record, error) {
	var out []Record
	var cutoff = time.Now().Add(-r.livenessWindow())

	var exclusiveStartKey map[string]types.AttributeValue
	for {
		resp, err := r.cfg.Client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         &r.cfg.Table,
			ConsistentRead:    boolPtr(true),
			ExclusiveStartKey: exclusiveStartKey,
		})
		if err != nil {
			return nil, herrors.New(herrors.MetadataUnavailable, "ListLive", err)
		}

		for _, item := range resp.Items {
			rec, ok := decodeRecord(item)
			if !ok {
				continue
			}
			if rec.LastUpdate.Before(cutoff) {
				continue
			}
			out = append(out, rec)
		}

		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		exclusiveStartKey = resp.LastEvaluatedKey
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func decodeRecord(item map[string]types.AttributeValue) (Record, bool) {
	idAttr, ok := item["ID"].(*types.AttributeValueMemberS)
	if !ok || idAttr.Value == "" {
		return Record{}, false
	}
	luAttr, ok := item["LastUpdate"].(*types.AttributeValueMemberS)
	if !ok {
		return Record{}, false
	}
	ts, err := time.Parse(time.RFC3339, luAttr.Value)
	if err != nil {
		return Record{}, false
	}
	return Record{ID: WorkerID(idAttr.Value), LastUpdate: ts}, true
}

// Run is the maintenance loop of spec.md 4.A: an initial RegisterSelf (a
// failure here is returned, and is fatal to the caller's startup),
// followed by a RegisterSelf on every tick of an H-second timer until ctx
// is cancelled, at which point DeregisterSelf runs exactly once. Heartbeat
// failures during steady state are reported to onError rather than
// terminating the loop.
func (r *Registry) Run(ctx context.Context, onError func(error)) error {
	if err := r.RegisterSelf(ctx); err != nil {
		telemetry.HeartbeatsTotal.WithLabelValues("error").Inc()
		return err
	}
	telemetry.HeartbeatsTotal.WithLabelValues("ok").Inc()

	var ticker = time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.RegisterSelf(ctx); err != nil {
				telemetry.HeartbeatsTotal.WithLabelValues("error").Inc()
				r.cfg.Logger.WithError(err).Warn("heartbeat failed")
				if onError != nil {
					onError(err)
				}
				continue
			}
			telemetry.HeartbeatsTotal.WithLabelValues("ok").Inc()

		case <-ctx.Done():
			var deregisterCtx, cancel = context.WithTimeout(context.Background(), r.cfg.Heartbeat)
			defer cancel()

			if err := r.DeregisterSelf(deregisterCtx); err != nil {
				r.cfg.Logger.WithError(err).Warn("deregister on shutdown failed")
				if onError != nil {
					onError(err)
				}
			}
			return nil
		}
	}
}

func boolPtr(b bool) *bool       { return &b }
func awsStringPtr(s string) *string { return &s }

// Package awsiface narrows the AWS SDK for Go v2 DynamoDB and Kinesis
// clients down to the handful of operations hydra's core actually calls,
// following the same narrow-interface-over-a-generated-client pattern the
// original Rust source used when it passed around Box<dynamodb::Client> and
// Box<kinesis::Client> by value (original_source/hydra/src/core/config.rs).
// Narrowing the surface lets tests supply fakes without standing up a mock
// of the entire generated SDK client.
package awsiface

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
)

// DynamoClient is the subset of *dynamodb.Client the clients table
// (SPEC_FULL.md 4.A) requires: conditionless upsert, delete-by-key, a
// strongly consistent scan, and a table-readiness probe.
type DynamoClient interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// KinesisClient is the subset of *kinesis.Client the stream metadata probe
// (SPEC_FULL.md 4.C) requires: stream description and shard enumeration.
type KinesisClient interface {
	DescribeStream(ctx context.Context, in *kinesis.DescribeStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamOutput, error)
	ListShards(ctx context.Context, in *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error)
}

// Clients bundles the two AWS service clients hydra needs, constructed
// against the default credential chain. Authentication to the cloud
// services is explicitly out of scope for hydra's core (spec.md section 1
// non-goals); this is as far as the module goes.
type Clients struct {
	Dynamo  DynamoClient
	Kinesis KinesisClient
}

// NewDefaultClients loads the default AWS configuration and constructs
// DynamoDB and Kinesis clients from it.
func NewDefaultClients(ctx context.Context) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &Clients{
		Dynamo:  dynamodb.NewFromConfig(cfg),
		Kinesis: kinesis.NewFromConfig(cfg),
	}, nil
}

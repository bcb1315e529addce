package stream

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/require"
)

type fakeKinesisClient struct {
	describeStatus types.StreamStatus
	describeARN    string
	describeErr    error

	shardIDs      []string
	listShardsErr error
	listShardsN   int
}

func (f *fakeKinesisClient) DescribeStream(ctx context.Context, in *kinesis.DescribeStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	var arn = f.describeARN
	return &kinesis.DescribeStreamOutput{
		StreamDescription: &types.StreamDescription{
			StreamStatus: f.describeStatus,
			StreamARN:    &arn,
		},
	}, nil
}

func (f *fakeKinesisClient) ListShards(ctx context.Context, in *kinesis.ListShardsInput, optFns ...func(*kinesis.Options)) (*kinesis.ListShardsOutput, error) {
	f.listShardsN++
	if f.listShardsErr != nil {
		return nil, f.listShardsErr
	}
	var shards = make([]types.Shard, len(f.shardIDs))
	for i, id := range f.shardIDs {
		var v = id
		shards[i] = types.Shard{ShardId: &v}
	}
	return &kinesis.ListShardsOutput{Shards: shards}, nil
}

func TestDescribeStream_Ready(t *testing.T) {
	var client = &fakeKinesisClient{describeStatus: types.StreamStatusActive, describeARN: "arn:aws:kinesis:us-east-1:1:stream/s"}
	var p, err = New(Config{StreamName: "s", Client: client})
	require.NoError(t, err)

	handle, err := p.DescribeStream(context.Background())
	require.NoError(t, err)
	require.Equal(t, Handle("arn:aws:kinesis:us-east-1:1:stream/s"), handle)
}

func TestDescribeStream_NotReady(t *testing.T) {
	var client = &fakeKinesisClient{describeStatus: types.StreamStatusCreating, describeARN: "arn:aws:kinesis:us-east-1:1:stream/s"}
	var p, err = New(Config{StreamName: "s", Client: client})
	require.NoError(t, err)

	_, err = p.DescribeStream(context.Background())
	require.Error(t, err)
}

func TestListShards(t *testing.T) {
	var client = &fakeKinesisClient{shardIDs: []string{"shard-0", "shard-1"}}
	var p, err = New(Config{StreamName: "s", Client: client})
	require.NoError(t, err)

	ids, err := p.ListShards(context.Background(), Handle("h"))
	require.NoError(t, err)
	require.Equal(t, []string{"shard-0", "shard-1"}, ids)
}

func TestListShards_CachesWithinTTL(t *testing.T) {
	var client = &fakeKinesisClient{shardIDs: []string{"shard-0"}}
	var p, err = New(Config{StreamName: "s", Client: client, CacheTTL: time.Hour})
	require.NoError(t, err)

	_, err = p.ListShards(context.Background(), Handle("h"))
	require.NoError(t, err)
	_, err = p.ListShards(context.Background(), Handle("h"))
	require.NoError(t, err)

	require.Equal(t, 1, client.listShardsN)
}

func TestListShards_RefetchesAfterTTL(t *testing.T) {
	var client = &fakeKinesisClient{shardIDs: []string{"shard-0"}}
	var p, err = New(Config{StreamName: "s", Client: client, CacheTTL: time.Millisecond})
	require.NoError(t, err)

	_, err = p.ListShards(context.Background(), Handle("h"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = p.ListShards(context.Background(), Handle("h"))
	require.NoError(t, err)

	require.Equal(t, 2, client.listShardsN)
}

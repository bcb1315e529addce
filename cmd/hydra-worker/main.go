// Command hydra-worker is a standalone binary wrapping the hydra
// coordinator for local exercise and demos: it registers a single peer,
// probes its configured stream and tables, and prints every consumed
// record to stdout as JSON until interrupted.
//
// Real deployments are expected to embed the hydra package directly and
// supply their own consumer.Adapter; this binary's only adapter is
// consumer.MemoryAdapter, which synthesizes records rather than reading a
// real stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/estuary/hydra"
	"github.com/estuary/hydra/internal/awsiface"
	"github.com/estuary/hydra/internal/consumer"
)

// config is the CLI surface, tagged in the style of
// go/flow-consumer/main.go's config struct.
type config struct {
	StreamName           string        `long:"stream-name" env:"HYDRA_STREAM_NAME" required:"true" description:"name of the stream to consume"`
	CheckpointsTableName string        `long:"checkpoints-table" env:"HYDRA_CHECKPOINTS_TABLE" required:"true" description:"DynamoDB table used by the consumer adapter for checkpoints"`
	ClientsTableName     string        `long:"clients-table" env:"HYDRA_CLIENTS_TABLE" required:"true" description:"DynamoDB table used for worker membership"`
	ApplicationName      string        `long:"application-name" env:"HYDRA_APPLICATION_NAME" default:"hydra-worker" description:"logical application name, used for logging and metrics"`
	WorkerID             string        `long:"worker-id" env:"HYDRA_WORKER_ID" description:"stable identity of this worker; defaults to hostname-pid if unset"`
	BufferSize           int           `long:"buffer-size" env:"HYDRA_BUFFER_SIZE" default:"64" description:"capacity of the bounded output channel"`
	Heartbeat            time.Duration `long:"heartbeat" env:"HYDRA_HEARTBEAT" default:"5s" description:"registration heartbeat period"`
	ShutdownGrace        time.Duration `long:"shutdown-grace" env:"HYDRA_SHUTDOWN_GRACE" default:"10s" description:"bound on how long shutdown waits for tasks to exit"`
	DemoInterval         time.Duration `long:"demo-interval" env:"HYDRA_DEMO_INTERVAL" default:"1s" description:"synthetic record interval for the built-in memory adapter"`
	CheckpointDBPath     string        `long:"checkpoint-db" env:"HYDRA_CHECKPOINT_DB" description:"optional SQLite path the memory adapter uses to persist demo checkpoints"`
}

func main() {
	var cfg config
	if _, err := flags.Parse(&cfg); err != nil {
		os.Exit(1)
	}

	if cfg.WorkerID == "" {
		hostname, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	color.New(color.FgCyan, color.Bold).Printf("hydra-worker")
	fmt.Printf(" starting as %s (application %s, stream %s)\n", cfg.WorkerID, cfg.ApplicationName, cfg.StreamName)

	if err := run(cfg); err != nil {
		logrus.WithError(err).Fatal("hydra-worker exited with error")
	}
}

func run(cfg config) error {
	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := awsiface.NewDefaultClients(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS clients: %w", err)
	}

	adapter, err := consumer.NewMemoryAdapter(cfg.BufferSize, cfg.DemoInterval, cfg.CheckpointDBPath)
	if err != nil {
		return fmt.Errorf("constructing memory adapter: %w", err)
	}

	var coordCfg = hydra.Config{
		BufferSize:           cfg.BufferSize,
		StreamName:           cfg.StreamName,
		CheckpointsTableName: cfg.CheckpointsTableName,
		ClientsTableName:     cfg.ClientsTableName,
		ApplicationName:      cfg.ApplicationName,
		WorkerID:             cfg.WorkerID,
		Consumer:             adapter,
		MetadataClient:       clients.Dynamo,
		StreamClient:         clients.Kinesis,
		Heartbeat:            cfg.Heartbeat,
		ShutdownGrace:        cfg.ShutdownGrace,
		Callbacks: hydra.Callbacks{
			RuntimeError: func(err error) {
				logrus.WithError(err).Warn("runtime error")
			},
		},
	}

	coordinator, err := hydra.New(coordCfg)
	if err != nil {
		return fmt.Errorf("constructing coordinator: %w", err)
	}

	if err := coordinator.Init(ctx); err != nil {
		return fmt.Errorf("initializing coordinator: %w", err)
	}

	var encoder = json.NewEncoder(os.Stdout)
	var runErrCh = make(chan error, 1)
	go func() { runErrCh <- coordinator.Run(ctx) }()

	for {
		select {
		case record, ok := <-coordinator.Output():
			if !ok {
				return <-runErrCh
			}
			if err := encoder.Encode(record); err != nil {
				logrus.WithError(err).Warn("failed to encode record to stdout")
			}
		case err := <-runErrCh:
			return err
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"maze-relay-go/internal/broker"
	"maze-relay-go/internal/config"
	"maze-relay-go/internal/emitter"
	"maze-relay-go/internal/ingest"
	"maze-relay-go/internal/output"
	"maze-relay-go/internal/server"
	"maze-relay-go/internal/simulator"
)

type metrics struct {
	sourceMessages atomic.Uint64
	sourceRestarts atomic.Uint64
	rawLogErrors   atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	decodeCount, decodeNanos := ingest.DecodeTiming()
	return map[string]any{
		"source_messages_total":        m.sourceMessages.Load(),
		"source_restarts_total":        m.sourceRestarts.Load(),
		"raw_log_errors_total":         m.rawLogErrors.Load(),
		"ingest_received_total":        ingest.Received(),
		"ingest_decode_failures_total": ingest.DecodeFailures(),
		"ingest_decode_total":          decodeCount,
		"ingest_decode_nanos_total":    decodeNanos,
	}
}

// countingRecorder forwards to the raw log and counts failures instead of
// surfacing them on the relay path.
type countingRecorder struct {
	w *output.RawLogWriter
	m *metrics
}

func (r countingRecorder) Record(payload []byte) error {
	err := r.w.Record(payload)
	if err != nil {
		r.m.rawLogErrors.Add(1)
	}
	return err
}

func main() {
	d := config.Default()
	var (
		configPath     = flag.String("config", "", "Optional YAML config file; flags given explicitly override it")
		port           = flag.Int("port", d.Relay.Port, "HTTP/WebSocket port")
		producerPath   = flag.String("producer-path", d.Relay.ProducerPath, "WebSocket path for the producer")
		consumerPath   = flag.String("consumer-path", d.Relay.ConsumerPath, "WebSocket path for consumers")
		consumerBuffer = flag.Int("consumer-buffer", d.Relay.ConsumerBuffer, "Outbound queue length per consumer")
		replayMaze     = flag.Bool("replay-maze", d.Relay.ReplayMaze, "Send the last maze frame to consumers as they join")
		debug          = flag.Bool("debug", d.Relay.Debug, "Run the built-in simulator as the producer")
		simRate        = flag.Float64("sim-rate", d.Relay.SimRate, "Simulator entity updates per second")
		endpoint       = flag.String("endpoint", d.Relay.Endpoint, "ZMQ PULL endpoint for producer messages (empty disables)")
		ingestLogEvery = flag.Int("ingest-log-every", d.Relay.IngestLogEvery, "Log every Nth ingest error")
		ingestFallback = flag.Bool("ingest-fallback", d.Relay.IngestFallback, "Fall back to the simulator when ingest fails")
		rawLogEnabled  = flag.Bool("raw-log", d.Relay.RawLogEnabled, "Capture relayed producer messages to disk")
		rawLogDir      = flag.String("raw-log-dir", d.Relay.RawLogDir, "Directory for raw captures")
		mqttBroker     = flag.String("mqtt-broker", d.Relay.MQTT.Broker, "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)")
		mqttTopic      = flag.String("mqtt-topic", d.Relay.MQTT.Topic, "MQTT base topic")
		verbose        = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := d
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		r := &cfg.Relay
		switch f.Name {
		case "port":
			r.Port = *port
		case "producer-path":
			r.ProducerPath = *producerPath
		case "consumer-path":
			r.ConsumerPath = *consumerPath
		case "consumer-buffer":
			r.ConsumerBuffer = *consumerBuffer
		case "replay-maze":
			r.ReplayMaze = *replayMaze
		case "debug":
			r.Debug = *debug
		case "sim-rate":
			r.SimRate = *simRate
		case "endpoint":
			r.Endpoint = *endpoint
		case "ingest-log-every":
			r.IngestLogEvery = *ingestLogEvery
		case "ingest-fallback":
			r.IngestFallback = *ingestFallback
		case "raw-log":
			r.RawLogEnabled = *rawLogEnabled
		case "raw-log-dir":
			r.RawLogDir = *rawLogDir
		case "mqtt-broker":
			r.MQTT.Broker = *mqttBroker
		case "mqtt-topic":
			r.MQTT.Topic = *mqttTopic
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m metrics
	opts := broker.Options{Logger: logger, ReplayMaze: cfg.Relay.ReplayMaze}
	if cfg.Relay.RawLogEnabled {
		writer, err := output.NewRawLogWriter(cfg.Relay.RawLogDir, "relay")
		if err != nil {
			logger.Error("failed to start raw log", "error", err)
			os.Exit(1)
		}
		logger.Info("raw capture enabled", "path", writer.Path())
		opts.Recorder = countingRecorder{w: writer, m: &m}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("raw log close failed", "error", err)
			}
		}()
	}
	b := broker.New(opts)

	var wg sync.WaitGroup
	var sourceName atomic.Value
	sourceName.Store("websocket")

	runSim := func(name string) {
		sim, err := simulator.New(simulator.DefaultOptions())
		if err != nil {
			logger.Error("simulator", "error", err)
			return
		}
		sourceName.Store(name)
		runSource(ctx, b, name, count(ctx, sim.Stream(ctx, cfg.Relay.SimRate), &m), cfg.Relay.SourceRetry, logger)
	}

	switch {
	case cfg.Relay.Debug:
		wg.Add(1)
		go func() {
			defer wg.Done()
			runSim("simulator")
		}()
	case cfg.Relay.Endpoint != "":
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				msgs, err := ingest.Stream(ctx, cfg.Relay.Endpoint, ingest.Options{
					LogEvery: cfg.Relay.IngestLogEvery,
					Logger:   logger,
				})
				if err != nil {
					if cfg.Relay.IngestFallback {
						logger.Warn("failed to start ingest; falling back to simulator", "endpoint", cfg.Relay.Endpoint, "error", err)
						runSim("simulator-fallback")
						return
					}
					logger.Error("failed to start ingest", "endpoint", cfg.Relay.Endpoint, "error", err)
					stop()
					return
				}
				sourceName.Store("zmq")
				runSource(ctx, b, "zmq", count(ctx, msgs, &m), cfg.Relay.SourceRetry, logger)
				if ctx.Err() == nil {
					m.sourceRestarts.Add(1)
				}
			}
		}()
	}

	var mirror *emitter.Mirror
	if cfg.Relay.MQTT.Broker != "" {
		mq := emitter.NewMQTTEmitter(cfg.Relay.MQTT)
		if err := mq.Connect(ctx); err != nil {
			logger.Error("mqtt disabled", "error", err)
		} else {
			defer mq.Disconnect()
			mirror = emitter.NewMirror(mq, cfg.Relay.MQTT.Topic, cfg.Relay.MQTT.QoS, cfg.Relay.MQTT.Buffer, logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mirror.Run(ctx, b); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("mqtt mirror stopped", "error", err)
				}
			}()
		}
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := b.Stats()
				logger.Info("relay stats",
					"producer", st.ProducerConnected,
					"consumers", st.Consumers,
					"relayed", st.Relayed,
					"dropped", st.Dropped,
					"malformed", st.Malformed,
					"decode_failures", ingest.DecodeFailures())
			}
		}
	}()

	statusFn := func() map[string]any {
		status := map[string]any{
			"source":  sourceName.Load(),
			"metrics": m.snapshot(),
		}
		if mirror != nil {
			status["mqtt"] = mirror.Stats()
		}
		return status
	}

	if err := server.Run(ctx, cfg.Relay, b, statusFn, logger); err != nil {
		logger.Error("server stopped", "error", err)
	}
	stop()
	wg.Wait()
}

func runSource(ctx context.Context, b *broker.Broker, name string, msgs <-chan []byte, retry time.Duration, logger *slog.Logger) {
	logger.Info("producer source started", "source", name)
	if err := broker.RunSource(ctx, b, name, msgs, retry); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("producer source stopped", "source", name, "error", err)
	}
}

func count(ctx context.Context, in <-chan []byte, m *metrics) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range in {
			m.sourceMessages.Add(1)
			select {
			case <-ctx.Done():
				return
			case out <- msg:
			}
		}
	}()
	return out
}

// Package otel implements a store.EventStore that exports audit events as
// OTLP log records, shipping them to a configured collector.
package otel

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc/credentials"

	sdklog "go.opentelemetry.io/otel/sdk/log"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"

	"github.com/safesh/safesh/internal/events"
	"github.com/safesh/safesh/pkg/types"
)

// Config holds the configuration needed to construct a Store.
type Config struct {
	Endpoint string
	Protocol string // "grpc" or "http"

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
	TLSInsecure bool // skip server certificate verification

	Headers map[string]string

	Timeout      time.Duration
	BatchTimeout time.Duration
	BatchMaxSize int

	Filter Filter

	Resource *resource.Resource
}

// Store implements store.EventStore by exporting events via OTEL.
// It is safe for concurrent use. Export errors are silently dropped
// so that audit recording never blocks the caller.
type Store struct {
	filter *Filter

	logProvider *sdklog.LoggerProvider
	logger      otellog.Logger
}

// New creates a new OTEL Store. The context is used for creating exporters.
func New(ctx context.Context, cfg Config) (*Store, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 5 * time.Second
	}
	batchMaxSize := cfg.BatchMaxSize
	if batchMaxSize == 0 {
		batchMaxSize = 512
	}

	logExp, err := newLogExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otel log exporter: %w", err)
	}

	batchProc := sdklog.NewBatchProcessor(logExp,
		sdklog.WithExportTimeout(timeout),
		sdklog.WithExportInterval(batchTimeout),
		sdklog.WithExportMaxBatchSize(batchMaxSize),
	)

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(batchProc),
		sdklog.WithResource(cfg.Resource),
	)

	return &Store{
		filter:      &cfg.Filter,
		logProvider: provider,
		logger:      provider.Logger("safesh"),
	}, nil
}

// AppendEvent converts and exports the event via OTEL. Filtering is applied
// first. Export errors are silently dropped to avoid blocking the caller.
func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	if !s.filter.Match(ev.Type, events.Category(ev.Type)) {
		return nil
	}
	s.logger.Emit(ctx, convertToLogRecord(ev))
	return nil
}

// QueryEvents is not supported by the OTEL store. Events are exported
// in a fire-and-forget fashion and cannot be queried back.
func (s *Store) QueryEvents(_ context.Context, _ types.EventQuery) ([]types.Event, error) {
	return nil, fmt.Errorf("otel store does not support queries")
}

// Close shuts down the log provider, flushing any pending records.
// A 10-second timeout is applied.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.logProvider != nil {
		if err := s.logProvider.Shutdown(ctx); err != nil {
			slog.Warn("otel log provider shutdown error", "error", err)
			return err
		}
	}
	return nil
}

// newLogExporter creates an OTLP log exporter using the configured protocol.
func newLogExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	switch cfg.Protocol {
	case "grpc":
		opts := []otlploggrpc.Option{
			otlploggrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploggrpc.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploggrpc.WithHeaders(cfg.Headers))
		}
		if cfg.TLSEnabled {
			tlsCfg, err := clientTLS(cfg)
			if err != nil {
				return nil, err
			}
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
		} else {
			opts = append(opts, otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, opts...)

	case "http":
		opts := []otlploghttp.Option{
			otlploghttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlploghttp.WithTimeout(cfg.Timeout))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlploghttp.WithHeaders(cfg.Headers))
		}
		if cfg.TLSEnabled {
			tlsCfg, err := clientTLS(cfg)
			if err != nil {
				return nil, err
			}
			opts = append(opts, otlploghttp.WithTLSClientConfig(tlsCfg))
		} else {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTEL protocol %q", cfg.Protocol)
	}
}

func clientTLS(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLSInsecure,
	}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

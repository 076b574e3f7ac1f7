// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry wraps the OpenTelemetry tracing SDK: a Provider owns
// the TracerProvider and OTLP/HTTP exporter lifecycle, and a Tracer starts
// spans around step execution (stepengine) and analysis-type execution
// (analysisqueue) — this codebase's equivalent of "activities".
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow/stepflow/internal/config"
	"github.com/stepflow/stepflow/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetTelemetryLogger()
		log = &l
	})
	return log
}

// Provider owns the tracer provider and its OTLP/HTTP exporter. The zero
// value is not usable; construct with New.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds a Provider from cfg. When cfg.Enabled is false, New returns a
// Provider backed by the SDK's no-op tracer provider — callers never need
// to nil-check the returned Provider itself, only decide whether to hold
// one at all.
func New(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Provider{tp: tp, tracer: tp.Tracer("stepflow")}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP/HTTP trace exporter: %w", err)
	}

	batchOpts := []sdktrace.BatchSpanProcessorOption{}
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	if cfg.SampleRatio <= 0 {
		sampler = sdktrace.NeverSample()
	} else if cfg.SampleRatio >= 1 {
		sampler = sdktrace.AlwaysSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	getLog().Info().Str("endpoint", cfg.OTLPEndpoint).Str("service", cfg.ServiceName).Msg("telemetry provider started")
	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// Tracer returns the provider's tracer, ready to start spans.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and releases the exporter. Safe to call on a
// disabled/no-op provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shut down telemetry provider: %w", err)
	}
	return nil
}

// ForceFlush blocks until every buffered span has been exported or ctx is
// done, whichever comes first.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if err := p.tp.ForceFlush(ctx); err != nil {
		return fmt.Errorf("flush telemetry provider: %w", err)
	}
	return nil
}

// WrapStep runs fn inside a span named "step.<key>", recording fn's error
// (if any) on the span before returning it unchanged.
func (p *Provider) WrapStep(ctx context.Context, key string, fn func(context.Context) error) error {
	return p.wrap(ctx, "step."+key, attribute.String("stepflow.step.key", key), fn)
}

// WrapAnalysisType runs fn inside a span named "analysis.<type>", recording
// fn's error (if any) on the span before returning it unchanged.
func (p *Provider) WrapAnalysisType(ctx context.Context, analysisType string, fn func(context.Context) error) error {
	return p.wrap(ctx, "analysis."+analysisType, attribute.String("stepflow.analysis.type", analysisType), fn)
}

func (p *Provider) wrap(ctx context.Context, spanName string, attr attribute.KeyValue, fn func(context.Context) error) error {
	spanCtx, span := p.tracer.Start(ctx, spanName, trace.WithAttributes(attr))
	defer span.End()

	err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

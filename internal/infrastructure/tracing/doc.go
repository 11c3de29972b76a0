/*
Package tracing provides lightweight request tracing.

# Overview

Every HTTP request gets a trace id and a span id, taken from the caller's
X-Trace-ID / X-Span-ID headers when present. Handlers open child spans around
slow work (generator calls, repairs, backups). Finished spans are logged
through zap by a background collector.

# Usage

	tracer := tracing.New("nexus-core", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "supervisor.evolve")
	defer tracer.End(span, err)

# Trace Format

- X-Trace-ID: identifier for the whole request flow
- X-Span-ID: identifier for the current operation

Spans are buffered (1000) and dropped with a warning when the buffer is full.
*/
package tracing

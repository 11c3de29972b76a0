/*
Package monitoring provides metrics collection.

# Overview

Metrics live on a per-instance Prometheus registry, so several servers (or
tests) in one process never collide. The collector tracks HTTP requests, the
supervisor lifecycle, conduit traffic, outbound service calls and WebSocket
connections.

Metrics implements both supervisor.MetricsSink and conduit.MetricsSink.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	sup := supervisor.New(versions, gen, supervisor.WithMetrics(metrics))

	timer := monitoring.NewTimer(metrics, "cloud", "backup")
	err := backup()
	timer.StopErr(err)
*/
package monitoring

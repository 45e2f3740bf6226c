// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "classbeacon"

var (
	// WindowChanges counts window writes by action (open, close).
	WindowChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "window_changes_total",
		Help:      "Attendance window writes by action.",
	}, []string{"action"})

	// WindowReadFallbacks counts reads that degraded to a closed window.
	WindowReadFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "window_read_fallbacks_total",
		Help:      "Window reads treated as closed because the slot was unreadable or malformed.",
	}, []string{"reason"})

	// WindowWatchers is the number of live window observers.
	WindowWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "window_watchers",
		Help:      "Open window snapshot streams.",
	})

	// CameraAcquisitions counts camera attempts by outcome.
	CameraAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "camera_acquisitions_total",
		Help:      "Camera acquisition attempts by outcome.",
	}, []string{"outcome"})

	// CheckIns counts check-in submissions by outcome.
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkins_total",
		Help:      "Check-in submissions by outcome.",
	}, []string{"outcome"})

	// ActiveSessions is the number of student sessions held in memory.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Student check-in sessions currently held in memory.",
	})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)

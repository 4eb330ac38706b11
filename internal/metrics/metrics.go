// AEEP - Agent-to-Agent Economic Exchange Protocol
// Copyright (C) 2025 X811-project
//
// This file is part of AEEP.
//
// AEEP is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// AEEP is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with AEEP. If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnvelopesAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "auth",
		Name:      "envelopes_accepted_total",
		Help:      "Envelopes that passed the authentication pipeline",
	}, []string{"type"})

	EnvelopesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "auth",
		Name:      "envelopes_rejected_total",
		Help:      "Envelopes rejected by the authentication pipeline",
	}, []string{"reason"})

	NegotiationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "negotiation",
		Name:      "transitions_total",
		Help:      "Committed interaction state transitions",
	}, []string{"to"})

	NegotiationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "negotiation",
		Name:      "failures_total",
		Help:      "Rejected negotiation messages by error code",
	}, []string{"code"})

	NegotiationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aeep",
		Subsystem: "negotiation",
		Name:      "handle_duration_seconds",
		Help:      "Time spent handling one negotiation message",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	MessagesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "router",
		Name:      "messages_queued_total",
		Help:      "Envelopes enqueued for delivery",
	})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "router",
		Name:      "messages_delivered_total",
		Help:      "Envelopes handed to a recipient by poll",
	})

	StreamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aeep",
		Subsystem: "router",
		Name:      "stream_connections",
		Help:      "Live push stream connections",
	})

	StreamEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "router",
		Name:      "stream_evictions_total",
		Help:      "Push connections evicted after a failed write",
	})

	BatchesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "batch",
		Name:      "submissions_total",
		Help:      "Batch submissions by outcome",
	}, []string{"outcome"})

	BatchBufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aeep",
		Subsystem: "batch",
		Name:      "buffer_size",
		Help:      "Interaction hashes waiting to be anchored",
	})

	TrustRecomputed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "trust",
		Name:      "recomputed_total",
		Help:      "Trust score recomputations",
	})

	SweepExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeep",
		Subsystem: "sweep",
		Name:      "expired_total",
		Help:      "Rows expired by background sweeps",
	}, []string{"kind"})
)

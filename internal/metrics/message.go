// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsDispatched tracks commands the secure module accepted or
	// rejected on the shared channel.
	CommandsDispatched = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "commands_total",
			Help:      "Total number of commands dispatched over the channel",
		},
		[]string{"command", "status"}, // login/logout/query/share/play/..., accepted/rejected
	)

	// ChunksTransferred tracks song chunks moved through the double-buffered
	// ring, by which half was drained.
	ChunksTransferred = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "chunks_transferred_total",
			Help:      "Total number of song chunks transferred through the ring",
		},
		[]string{"half"}, // low, high
	)

	// ChunkBytesTransferred tracks decrypted PCM bytes delivered to the
	// audio sink.
	ChunkBytesTransferred = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "chunk_bytes_total",
			Help:      "Total number of decrypted PCM bytes delivered",
		},
	)

	// CommandDispatchDuration tracks round-trip latency from the host
	// posting a command to the secure module transitioning out of WORKING.
	CommandDispatchDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "command_duration_seconds",
			Help:      "Command dispatch duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~205ms
		},
		[]string{"command"},
	)
)

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
	// LoginAttempts tracks login attempts against the secure module.
	LoginAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "attempts_total",
			Help:      "Total number of login attempts",
		},
		[]string{"status"}, // success, denied, already_logged_in
	)

	// PlaybackSessionsActive tracks playback sessions currently open, from
	// PLAY_SONG/DIGITAL_OUT until the session returns to STOPPED.
	PlaybackSessionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "active",
			Help:      "Number of playback sessions currently active",
		},
	)

	// PlaybackSessionsClosed tracks completed or stopped playback sessions.
	PlaybackSessionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "closed_total",
			Help:      "Total number of playback sessions that reached STOPPED",
		},
		[]string{"reason"}, // eof, tampered, stop, error
	)

	// PlaybackVerdicts tracks the policy verdict reached for each play.
	PlaybackVerdicts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "verdicts_total",
			Help:      "Total number of policy verdicts reached on play",
		},
		[]string{"verdict"}, // full, preview, denied
	)

	// PlaybackSessionDuration tracks wall-clock duration of a playback
	// session from the first play command to STOPPED.
	PlaybackSessionDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "duration_seconds",
			Help:      "Playback session duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~13min
		},
	)

	// ShareOperations tracks re-share (metadata rewrite) attempts.
	ShareOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "share",
			Name:      "operations_total",
			Help:      "Total number of song share attempts",
		},
		[]string{"status"}, // success, no_session, not_owner, unknown_user, is_owner, already_shared, full
	)
)

// Package metrics defines the Prometheus instrumentation exposed by the host
// driver. The secure module has no network stack and exports nothing; its
// metrics are recorded in-process by aead, pipeline and securemodule, and
// the host binary serves them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mipod"

// Registry is the collector registry backing every metric in this package.
// Tests construct their own via prometheus.NewRegistry() where isolation
// matters; the host binary serves this one on the metrics bind address.
var Registry = prometheus.NewRegistry()

// Package corda provides a notary uniqueness service: the component of a
// distributed ledger that guarantees no two transactions consume the same
// input state twice.
//
// The packages under core/notary define the data model, the state consumption
// ledger and the commit algorithm. The provider exists in two variants that
// share the same algorithm: a single-node one and a replicated one that routes
// every decision through a total-order broadcast.
package corda

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(zerolog.InfoLevel)

// PromCollectors exposes the Prometheus collectors declared across the
// packages so that a daemon can register them to its own registry.
var PromCollectors []prometheus.Collector

// Package gateway exposes the notary uniqueness provider over HTTP, so that
// a flow layer without direct access to the process can submit notarization
// requests.
//
// The gateway owns the request authentication policy: it verifies the request
// signature against the requester identity before calling the provider. Each
// commit runs on the goroutine of its connection, which gives callers the
// asynchronous surface of the provider.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	corda "github.com/mvdbos/corda"
	"github.com/mvdbos/corda/core/notary"
	"github.com/mvdbos/corda/core/notary/uniqueness"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

type key int

const requestIDKey key = 0

// Gateway is an HTTP server submitting notarization requests to a provider.
type Gateway struct {
	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
	listenAddr string
	quit       chan struct{}
}

// New creates a gateway for the provider. The ledger is used for the audit
// lookups and may be nil to disable them.
func New(listenAddr string, p notary.Provider, ledger uniqueness.Ledger) *Gateway {
	logger := corda.Logger.With().Str("role", "gateway").Logger()

	mux := http.NewServeMux()

	g := &Gateway{
		mux: mux,
		server: &http.Server{
			Addr:    listenAddr,
			Handler: tracing(logging(logger)(mux)),
		},
		logger:     logger,
		listenAddr: listenAddr,
		quit:       make(chan struct{}),
	}

	mux.HandleFunc("/commit", handleCommit(p))

	if ledger != nil {
		mux.HandleFunc("/consumed", handleConsumed(ledger))
	}

	return g
}

// Listen starts the server. This call is blocking until Stop is called.
func (g *Gateway) Listen() {
	g.logger.Info().Msg("gateway is starting")

	done := make(chan struct{})

	go func() {
		<-g.quit
		g.logger.Info().Msg("gateway is shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		g.server.SetKeepAlivesEnabled(false)
		err := g.server.Shutdown(ctx)
		if err != nil {
			g.logger.Err(err).Msg("could not gracefully shutdown the gateway")
		}
		close(done)
	}()

	g.logger.Info().Msgf("gateway is ready to handle requests at %s", g.listenAddr)

	err := g.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		g.logger.Fatal().Msgf("could not listen on %s: %v", g.listenAddr, err)
	}

	<-done
	g.logger.Info().Msg("gateway stopped")
}

// Stop stops the server. It should be called only once in order to make a new
// Listen() successful.
func (g *Gateway) Stop() {
	g.quit <- struct{}{}
}

// RegisterHandler registers an additional handler, for instance the metrics
// endpoint of the daemon.
func (g *Gateway) RegisterHandler(path string,
	handler func(http.ResponseWriter, *http.Request)) {

	g.mux.HandleFunc(path, handler)
}

func handleCommit(p notary.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "only POST is allowed", http.StatusMethodNotAllowed)
			return
		}

		input := CommitRequestJSON{}
		err := json.NewDecoder(r.Body).Decode(&input)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed", "malformed json: "+err.Error())
			return
		}

		req, err := input.ToRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed", err.Error())
			return
		}

		err = req.Verify()
		if err != nil {
			writeError(w, http.StatusForbidden, "unauthorized", err.Error())
			return
		}

		receipt, err := p.Commit(r.Context(), req)
		if err != nil {
			writeCommitError(w, err)
			return
		}

		writeReceipt(w, receipt)
	}
}

func handleConsumed(ledger uniqueness.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txID, err := parseDigest(r.URL.Query().Get("tx"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed", err.Error())
			return
		}

		refs, err := ledger.ConsumedBy(r.Context(), txID)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorJSON{
				Kind:    "unavailable",
				Message: err.Error(),
			})
			return
		}

		writeConsumed(w, refs)
	}
}

// logging is a utility function that logs the http server events
func logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				requestID, ok := r.Context().Value(requestIDKey).(string)
				if !ok {
					requestID = "unknown"
				}
				logger.Info().Str("requestID", requestID).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Str("remoteAddr", r.RemoteAddr).Msg("")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// tracing is a utility function that adds header tracing
func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = xid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

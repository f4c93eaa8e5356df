// Package server runs an HTTP server behind a Host header gate.
package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/seslattery/hostgate/internal/allowlist"
	"github.com/seslattery/hostgate/internal/policy"
)

// AllowListSource yields the resolved allow-list. allowlist.Lazy and
// allowlist.Static implement it.
type AllowListSource interface {
	Get() (allowlist.AllowList, error)
}

// GateOptions controls how the gate treats requests.
type GateOptions struct {
	AllowEmptyHosts       bool
	IncludeFailureMessage bool
	// ExemptPaths are served without checking the Host header.
	ExemptPaths []string
}

const failureMessage = "<!DOCTYPE html>\r\n" +
	"<html><head><title>Bad Request</title>\r\n" +
	"<meta http-equiv=\"Content-Type\" content=\"text/html; charset=us-ascii\"></head>\r\n" +
	"<body><h2>Bad Request - Invalid Hostname</h2>\r\n" +
	"<hr><p>HTTP Error 400. The request hostname is invalid.</p>\r\n" +
	"</body></html>"

// Gate rejects requests whose Host header is not on the allow-list.
type Gate struct {
	source AllowListSource
	opts   GateOptions
	exempt map[string]struct{}
	logger *slog.Logger

	policy atomic.Pointer[policy.Policy]
}

// NewGate creates a Gate. The allow-list is fetched from source on first use.
func NewGate(source AllowListSource, opts GateOptions, logger *slog.Logger) *Gate {
	exempt := make(map[string]struct{}, len(opts.ExemptPaths))
	for _, p := range opts.ExemptPaths {
		exempt[p] = struct{}{}
	}
	return &Gate{
		source: source,
		opts:   opts,
		exempt: exempt,
		logger: logger,
	}
}

// Policy returns the compiled policy, resolving the allow-list if needed.
func (g *Gate) Policy() (*policy.Policy, error) {
	if p := g.policy.Load(); p != nil {
		return p, nil
	}

	list, err := g.source.Get()
	if err != nil {
		return nil, err
	}
	p, err := policy.New(list, g.opts.AllowEmptyHosts)
	if err != nil {
		return nil, err
	}

	// Concurrent first requests may both compile; the first store wins.
	if !g.policy.CompareAndSwap(nil, p) {
		return g.policy.Load(), nil
	}
	g.logger.Debug("host filtering enabled", "allowed_hosts", list.String())
	return p, nil
}

// Check evaluates a request's Host header.
func (g *Gate) Check(r *http.Request) (policy.Decision, error) {
	p, err := g.Policy()
	if err != nil {
		return policy.Decision{}, err
	}
	return p.Evaluate(r.Host, r.Host != ""), nil
}

// Middleware wraps next with host filtering.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := g.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		d, err := g.Check(r)
		if err != nil {
			g.logger.Error("host filtering unavailable", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if !d.Allowed() {
			g.logger.Debug("request host rejected",
				"host", r.Host,
				"reason", d.Reason.String(),
				"path", r.URL.Path,
			)
			g.reject(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Gate) reject(w http.ResponseWriter) {
	w.Header().Set("Connection", "close")
	if !g.opts.IncludeFailureMessage {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=us-ascii")
	w.Header().Set("Content-Length", strconv.Itoa(len(failureMessage)))
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(failureMessage))
}

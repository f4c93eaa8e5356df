// Package proxy provides an HTTP/HTTPS forward proxy that only reaches
// allow-listed hosts.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/martian/v3"
	"github.com/google/martian/v3/proxyutil"

	"github.com/seslattery/hostgate/internal/policy"
)

const decisionKey = "hostgate.decision"

// Proxy is an HTTP/HTTPS proxy that enforces the host policy on the Host
// header of proxied requests and on CONNECT targets.
type Proxy struct {
	policy   *policy.Policy
	listener net.Listener
	proxy    *martian.Proxy
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a new Proxy listening on addr.
func New(addr string, pol *policy.Policy, logger *slog.Logger) (*Proxy, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	p := &Proxy{
		policy:   pol,
		listener: listener,
		proxy:    martian.NewProxy(),
		logger:   logger,
	}
	p.proxy.SetDial(p.dialWithPolicy)
	p.proxy.SetRequestModifier(martian.RequestModifierFunc(p.gateRequest))
	p.proxy.SetResponseModifier(martian.ResponseModifierFunc(p.rejectResponse))
	return p, nil
}

// Addr returns the proxy's address (e.g., "127.0.0.1:12345").
func (p *Proxy) Addr() string {
	return p.listener.Addr().String()
}

// Start serves until ctx is cancelled.
func (p *Proxy) Start(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-done:
		}
	}()

	p.logger.Info("proxy started", "addr", p.Addr())
	err := p.proxy.Serve(p.listener)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// gateRequest evaluates the Host header and short-circuits denied requests.
func (p *Proxy) gateRequest(req *http.Request) error {
	d := p.policy.Evaluate(req.Host, req.Host != "")
	if d.Allowed() {
		p.logger.Debug("allowed", "host", req.Host, "reason", d.Reason.String())
		return nil
	}

	p.logger.Warn("blocked by policy", "host", req.Host, "reason", d.Reason.String())
	ctx := martian.NewContext(req)
	ctx.Set(decisionKey, d)
	ctx.SkipRoundTrip()
	return nil
}

// rejectResponse turns the placeholder response of a skipped round trip
// into a 400.
func (p *Proxy) rejectResponse(res *http.Response) error {
	if res.Request == nil {
		return nil
	}
	ctx := martian.NewContext(res.Request)
	if ctx == nil {
		return nil
	}
	if _, denied := ctx.Get(decisionKey); !denied {
		return nil
	}

	rejected := proxyutil.NewResponse(http.StatusBadRequest, strings.NewReader("host not allowed\n"), res.Request)
	rejected.Header.Set("Content-Type", "text/plain; charset=utf-8")
	*res = *rejected
	return nil
}

// dialWithPolicy is a custom dialer that enforces the policy on the target
// address, covering CONNECT tunnels.
func (p *Proxy) dialWithPolicy(network, addr string) (net.Conn, error) {
	if d := p.policy.Evaluate(addr, addr != ""); !d.Allowed() {
		p.logger.Warn("blocked by policy", "host", addr, "reason", d.Reason.String())
		return nil, fmt.Errorf("blocked by policy: %s", addr)
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return dialer.Dial(network, addr)
}

// Close shuts down the proxy. It is safe to call more than once.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.listener.Close()
		p.proxy.Close()
	})
	return p.closeErr
}

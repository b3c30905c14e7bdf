package driver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"testkiln/internal/cloud"
	"testkiln/internal/logging"
	"testkiln/internal/state"
)

// Probe checks that a target service on addr accepts connections.
type Probe func(ctx context.Context, addr string) error

const probeDialTimeout = 5 * time.Second

// TCPProbe dials the given port on the instance address. The default
// port is the SSH port, since a listening sshd is what a test run
// needs next.
func TCPProbe(port int) Probe {
	return func(_ context.Context, addr string) error {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(addr, strconv.Itoa(port)), probeDialTimeout)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// HTTPProbe issues a GET against "port/path" (for example
// ":8080/healthz") on the instance address and accepts any 2xx
// response. The client retries nothing itself; the waiter owns the
// attempt bound.
func HTTPProbe(spec string) Probe {
	port, path, _ := strings.Cut(strings.TrimPrefix(spec, ":"), "/")

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient.Timeout = probeDialTimeout
	client.Logger = nil

	return func(ctx context.Context, addr string) error {
		url := fmt.Sprintf("http://%s/%s", net.JoinHostPort(addr, port), path)
		req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		return nil
	}
}

// Waiter polls a created server until it is reachable. Attempts bounds
// the loop; Delay separates polls and may be zero.
type Waiter struct {
	Conn     cloud.Connection
	Attempts int
	Delay    time.Duration
	Probe    Probe
}

// Wait blocks until the server reports a public IPv4 address and the
// probe accepts a connection on it, then records the address in
// st.Hostname. On timeout the state is left untouched and the caller
// gets a ProvisioningTimeoutError naming the server.
func (w *Waiter) Wait(ctx context.Context, serverID string, st *state.Instance) error {
	for attempt := 1; attempt <= w.Attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.Delay)
		}

		srv, err := w.Conn.GetServer(ctx, serverID)
		if err != nil {
			return err
		}

		addr := publicIPv4(srv)
		if addr == "" {
			logging.Logger().Debug("server has no address yet",
				zap.String("server", serverID),
				zap.String("status", srv.Status),
				zap.Int("attempt", attempt))
			continue
		}

		if err := w.Probe(ctx, addr); err != nil {
			logging.Logger().Debug("server not accepting connections yet",
				zap.String("server", serverID),
				zap.String("address", addr),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		st.Hostname = addr
		logging.Logger().Info("server is reachable",
			zap.String("server", serverID),
			zap.String("address", addr),
			zap.Int("attempt", attempt))
		return nil
	}

	return &ProvisioningTimeoutError{Server: serverID, Attempts: w.Attempts}
}

// publicIPv4 returns the first syntactically valid IPv4 address the
// server reports, or "" when none is assigned yet.
func publicIPv4(srv *cloud.Server) string {
	for _, addr := range srv.Addresses {
		ip := net.ParseIP(addr)
		if ip != nil && ip.To4() != nil {
			return addr
		}
	}
	return ""
}

// Package dicom checks reachability of remote DICOM services. It does not
// speak the DICOM upper layer protocol; a probe succeeds when the service
// accepts a connection.
package dicom

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smartbox/internal/config"
)

// ErrorType categorizes a failed probe.
type ErrorType string

const (
	ErrorNetwork  ErrorType = "network"
	ErrorTimeout  ErrorType = "timeout"
	ErrorRejected ErrorType = "pacs_rejected"
	ErrorUnknown  ErrorType = "unknown"
)

// ErrTimeout lets probers signal a timeout without a net.Error.
var ErrTimeout = errors.New("probe timed out")

// ErrRejected is returned by probers that reached the peer but were turned
// away, for instance an association rejected for an unknown AE title.
var ErrRejected = errors.New("peer rejected the association")

// ProbeError wraps the cause of a failed probe with its category.
type ProbeError struct {
	Type    ErrorType
	Address string
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.Address, e.Type, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Prober checks whether an endpoint is reachable.
type Prober interface {
	Probe(ctx context.Context, ep config.Endpoint) error
}

// Categorize maps err to an ErrorType.
func Categorize(err error) ErrorType {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Type
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ErrorTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTimeout
	case errors.Is(err, ErrRejected):
		return ErrorRejected
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ErrorNetwork
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return ErrorNetwork
	}
	return ErrorUnknown
}

// TCPProber opens a TCP connection, optionally completes a TLS handshake,
// and closes it again.
type TCPProber struct {
	log *zap.Logger
	// TLSConfig is cloned per probe; ServerName defaults to the host.
	TLSConfig *tls.Config
}

func NewTCPProber(log *zap.Logger) *TCPProber {
	return &TCPProber{log: log}
}

func (p *TCPProber) Probe(ctx context.Context, ep config.Endpoint) error {
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return p.fail(addr, err)
	}
	defer conn.Close()

	if ep.UseTLS {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if p.TLSConfig != nil {
			cfg = p.TLSConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = ep.Host
		}
		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			return p.fail(addr, err)
		}
	}

	p.log.Debug("Probe succeeded",
		zap.String("address", addr),
		zap.String("calledAeTitle", ep.CalledAETitle),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (p *TCPProber) fail(addr string, err error) error {
	pe := &ProbeError{Type: Categorize(err), Address: addr, Err: err}
	p.log.Info("Probe failed",
		zap.String("address", addr),
		zap.String("type", string(pe.Type)),
		zap.Error(err),
	)
	return pe
}

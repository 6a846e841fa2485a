package health

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// TCPChecker dials a set of addresses, such as Kafka bootstrap brokers.
// The check passes when at least one address accepts a connection.
type TCPChecker struct {
	Addresses []string

	// Timeout bounds each dial (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP health checker
func NewTCPChecker(addresses ...string) *TCPChecker {
	return &TCPChecker{
		Addresses: addresses,
		Timeout:   5 * time.Second,
	}
}

// Check performs the TCP health check
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if len(t.Addresses) == 0 {
		return failed(start, "no addresses configured")
	}

	dialer := &net.Dialer{Timeout: t.Timeout}
	var errs []error
	for _, addr := range t.Addresses {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conn.Close()
		return passed(start, "TCP connection to %s successful", addr)
	}
	return failed(start, "no address reachable (%s): %v", strings.Join(t.Addresses, ", "), errors.Join(errs...))
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}

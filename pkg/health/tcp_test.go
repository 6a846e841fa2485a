package health

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestTCPChecker(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	down := closedAddr(t)

	tests := []struct {
		name    string
		addrs   []string
		healthy bool
	}{
		{name: "reachable", addrs: []string{lis.Addr().String()}, healthy: true},
		{name: "one of several reachable", addrs: []string{down, lis.Addr().String()}, healthy: true},
		{name: "none reachable", addrs: []string{down}, healthy: false},
		{name: "no addresses", addrs: nil, healthy: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewTCPChecker(tt.addrs...).Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
			assert.Equal(t, CheckTypeTCP, NewTCPChecker().Type())
		})
	}
}

// internal/transport/tcp_hardware.go
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DialTCP connects to a serial-over-TCP bridge. The link has no control
// line, so FlowSignal is accepted but has no effect.
func DialTCP(ctx context.Context, cfg TCPConfig, logger *zap.Logger) (*StreamHardware, error) {
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	logger = logger.With(
		zap.String("link", "tcp"),
		zap.String("address", address),
	)
	logger.Info("Opening TCP link", zap.Bool("keep_alive", cfg.KeepAlive))

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		logger.Error("Failed to open TCP link", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		if cfg.KeepAlive {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}
	}

	logger.Info("TCP link opened successfully")
	return NewStreamHardware(address, conn, nil, logger), nil
}

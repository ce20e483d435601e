// internal/transport/serial_hardware.go
package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// openPort is swapped out in tests.
var openPort = serial.Open

// OpenSerial opens a UART and wraps it as StreamHardware. The flow signal
// maps to RTS.
func OpenSerial(cfg SerialConfig, logger *zap.Logger) (*StreamHardware, error) {
	logger = logger.With(
		zap.String("link", "serial"),
		zap.String("port", cfg.Port),
	)
	logger.Info("Opening serial port",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
	)

	mode, err := serialMode(cfg)
	if err != nil {
		return nil, err
	}

	port, err := openPort(cfg.Port, mode)
	if err != nil {
		logger.Error("Failed to open serial port", zap.Error(err))
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	// A bounded read timeout lets the reader goroutine notice Close.
	poll := cfg.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	logger.Info("Serial port opened successfully")
	return NewStreamHardware(cfg.Port, port, port.SetRTS, logger), nil
}

func serialMode(cfg SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits: %d", cfg.StopBits)
	}

	switch cfg.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("invalid parity: %s", cfg.Parity)
	}
	return mode, nil
}

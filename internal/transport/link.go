// internal/transport/link.go
package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LinkType names the kind of stream a channel runs over.
type LinkType string

const (
	LinkSerial LinkType = "serial"
	LinkTCP    LinkType = "tcp"
	LinkUSB    LinkType = "usb"
)

// SerialConfig describes a UART link.
type SerialConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Poll     time.Duration `json:"poll"`
}

// TCPConfig describes a serial-over-TCP bridge such as ser2net.
type TCPConfig struct {
	Host      string        `json:"host"`
	Port      int           `json:"port"`
	KeepAlive bool          `json:"keep_alive"`
	Timeout   time.Duration `json:"timeout"`
}

// USBConfig describes a USB-UART bridge reached through bulk endpoints.
type USBConfig struct {
	VendorID     string `json:"vendor_id"`
	ProductID    string `json:"product_id"`
	SerialNumber string `json:"serial_number"`
	Config       int    `json:"config"`
	Interface    int    `json:"interface"`
	InEndpoint   int    `json:"in_endpoint"`
	OutEndpoint  int    `json:"out_endpoint"`
}

// LinkConfig selects and configures one link.
type LinkConfig struct {
	Type   LinkType     `json:"type"`
	Serial SerialConfig `json:"serial"`
	TCP    TCPConfig    `json:"tcp"`
	USB    USBConfig    `json:"usb"`
}

// Open opens the link described by cfg. The returned hardware has not been
// started; pass it to NewChannel and then Start it with the channel.
func Open(ctx context.Context, cfg LinkConfig, logger *zap.Logger) (*StreamHardware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case LinkSerial:
		return OpenSerial(cfg.Serial, logger)
	case LinkTCP:
		return DialTCP(ctx, cfg.TCP, logger)
	case LinkUSB:
		return OpenUSB(cfg.USB, logger)
	default:
		return nil, fmt.Errorf("unsupported link type: %s", cfg.Type)
	}
}

// Validate checks the section of cfg selected by Type.
func (cfg LinkConfig) Validate() error {
	switch cfg.Type {
	case LinkSerial:
		if cfg.Serial.Port == "" {
			return fmt.Errorf("serial port is required")
		}
		validRates := []int{9600, 19200, 38400, 57600, 74880, 115200, 230400, 460800, 921600}
		for _, rate := range validRates {
			if cfg.Serial.BaudRate == rate {
				return nil
			}
		}
		return fmt.Errorf("invalid baud rate: %d", cfg.Serial.BaudRate)
	case LinkTCP:
		if cfg.TCP.Host == "" {
			return fmt.Errorf("TCP host is required")
		}
		if cfg.TCP.Port < 1 || cfg.TCP.Port > 65535 {
			return fmt.Errorf("invalid port number: %d", cfg.TCP.Port)
		}
		return nil
	case LinkUSB:
		if cfg.USB.VendorID == "" || cfg.USB.ProductID == "" {
			return fmt.Errorf("USB vendor_id and product_id are required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported link type: %s", cfg.Type)
	}
}

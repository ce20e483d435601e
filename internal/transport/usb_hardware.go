// internal/transport/usb_hardware.go
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// usbStream adapts a claimed interface's bulk endpoints to io.ReadWriteCloser.
type usbStream struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint

	readCtx context.Context
	cancel  context.CancelFunc
}

func (s *usbStream) Read(p []byte) (int, error) {
	n, err := s.in.ReadContext(s.readCtx, p)
	if err != nil && s.readCtx.Err() != nil {
		return n, ErrClosed
	}
	return n, err
}

func (s *usbStream) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *usbStream) Close() error {
	s.cancel()
	if s.intf != nil {
		s.intf.Close()
	}
	var firstErr error
	if s.config != nil {
		if err := s.config.Close(); err != nil {
			firstErr = err
		}
	}
	if s.device != nil {
		if err := s.device.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ctx != nil {
		if err := s.ctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenUSB claims a USB-UART bridge's data interface. The bridge must already
// be configured for the co-processor's line settings; no control line is
// exposed, so FlowSignal has no effect.
func OpenUSB(cfg USBConfig, logger *zap.Logger) (*StreamHardware, error) {
	logger = logger.With(
		zap.String("link", "usb"),
		zap.String("vendor_id", cfg.VendorID),
		zap.String("product_id", cfg.ProductID),
	)
	logger.Info("Opening USB link",
		zap.Int("interface", cfg.Interface),
		zap.Int("in_endpoint", cfg.InEndpoint),
		zap.Int("out_endpoint", cfg.OutEndpoint),
	)

	vendorID, err := ParseUSBID(cfg.VendorID)
	if err != nil {
		return nil, fmt.Errorf("invalid vendor ID: %w", err)
	}
	productID, err := ParseUSBID(cfg.ProductID)
	if err != nil {
		return nil, fmt.Errorf("invalid product ID: %w", err)
	}

	s := &usbStream{ctx: gousb.NewContext()}
	s.readCtx, s.cancel = context.WithCancel(context.Background())

	s.device, err = findDevice(s.ctx, vendorID, productID, cfg.SerialNumber, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.device.SetAutoDetach(true); err != nil {
		logger.Warn("Failed to enable kernel driver auto-detach", zap.Error(err))
	}

	configNum := cfg.Config
	if configNum == 0 {
		configNum = 1
	}
	if s.config, err = s.device.Config(configNum); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to select config %d: %w", configNum, err)
	}
	if s.intf, err = s.config.Interface(cfg.Interface, 0); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", cfg.Interface, err)
	}
	if s.in, err = s.intf.InEndpoint(cfg.InEndpoint); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to get in endpoint: %w", err)
	}
	if s.out, err = s.intf.OutEndpoint(cfg.OutEndpoint); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to get out endpoint: %w", err)
	}

	name := fmt.Sprintf("usb:%s:%s", vendorID, productID)
	logger.Info("USB link opened successfully")
	return NewStreamHardware(name, s, nil, logger), nil
}

// ParseUSBID parses a hex vendor or product id, with or without 0x.
func ParseUSBID(s string) (gousb.ID, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}

func findDevice(ctx *gousb.Context, vendorID, productID gousb.ID, serialNumber string, logger *zap.Logger) (*gousb.Device, error) {
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vendorID && desc.Product == productID
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var chosen *gousb.Device
	for _, dev := range devices {
		if chosen != nil {
			dev.Close()
			continue
		}
		if serialNumber != "" {
			sn, err := dev.SerialNumber()
			if err != nil || sn != serialNumber {
				dev.Close()
				continue
			}
		}
		chosen = dev
	}
	if chosen == nil {
		return nil, fmt.Errorf("USB device not found (VID: %s, PID: %s)", vendorID, productID)
	}
	if len(devices) > 1 && serialNumber == "" {
		logger.Warn("Multiple matching USB devices found, using first one")
	}
	return chosen, nil
}

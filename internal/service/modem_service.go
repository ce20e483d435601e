// internal/service/modem_service.go
package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"modem-service/internal/config"
	"modem-service/internal/model"
	"modem-service/internal/observability"
	"modem-service/internal/protocol"
	"modem-service/internal/transport"
	"modem-service/internal/utils"
)

// ErrNotRunning is returned by operations while no link is up.
var ErrNotRunning = fmt.Errorf("modem link is not up: %w", transport.ErrClosed)

// EventPublisher receives notifications and link changes. Publish must not
// block.
type EventPublisher interface {
	Publish(event model.ModemEvent)
}

type linkOpener func(ctx context.Context, cfg transport.LinkConfig, logger *zap.Logger) (*transport.StreamHardware, error)

// ModemService owns the link to the co-processor: it opens the hardware,
// builds the channel and engine on it, sets up the session, keeps
// notifications flowing while idle and reopens the link when it fails.
type ModemService struct {
	config    *config.Config
	logger    *utils.ServiceLogger
	publisher EventPublisher
	open      linkOpener

	mu        sync.RWMutex
	hw        *transport.StreamHardware
	channel   *transport.Channel
	engine    *protocol.Engine
	collector *observability.TransportCollector
	startedAt time.Time
	lastErr   error
	overrides map[protocol.TimeoutClass]time.Duration

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewModemService creates a new modem service instance
func NewModemService(cfg *config.Config, logger *zap.Logger, publisher EventPublisher) *ModemService {
	return &ModemService{
		config:    cfg,
		logger:    utils.NewServiceLogger(logger, "modem-service"),
		publisher: publisher,
		open:      transport.Open,
		overrides: make(map[protocol.TimeoutClass]time.Duration),
	}
}

// Start launches the link supervisor. The first connection attempt happens
// in the background; use IsRunning or Status to see when the link is up.
func (s *ModemService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("modem service already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.supervise(ctx)
	return nil
}

// Stop closes the link and waits for background work to finish.
func (s *ModemService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.LogServiceStop("stopped")
}

// IsRunning reports whether the link is up and the session initialized.
func (s *ModemService) IsRunning() bool {
	return s.running.Load()
}

func (s *ModemService) supervise(ctx context.Context) {
	defer s.wg.Done()

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("Modem link down", zap.Error(err),
			zap.Duration("retry_in", s.config.Modem.ReconnectDelay))
		s.publish(model.LinkEvent(s.linkName(), false, err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.Modem.ReconnectDelay):
		}
	}
}

// session runs one link from open to failure.
func (s *ModemService) session(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.disconnect()

	engine, _ := s.current()
	if err := s.initialize(engine); err != nil {
		return fmt.Errorf("session setup failed: %w", err)
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.lastErr = nil
	s.mu.Unlock()
	s.running.Store(true)
	s.publish(model.LinkEvent(s.linkName(), true, nil))

	return s.serve(ctx, engine)
}

func (s *ModemService) connect(ctx context.Context) error {
	mc := s.config.Modem
	linkCfg := LinkConfigFrom(mc.Link)

	hw, err := s.open(ctx, linkCfg, s.logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open link: %w", err)
	}
	modemLogger := utils.NewModemLogger(s.logger.Logger, string(linkCfg.Type), hw.Name())

	flow, err := transport.ParseFlowControl(mc.Channel.FlowControl)
	if err != nil {
		hw.Close()
		return err
	}
	ch, err := transport.NewChannel(hw, transport.Options{
		TxSize:     mc.Channel.TxSize,
		RxSize:     mc.Channel.RxSize,
		Flow:       flow,
		LowWater:   mc.Channel.LowWater,
		Hysteresis: mc.Channel.Hysteresis,
		Logger:     modemLogger.Logger,
	})
	if err != nil {
		hw.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}
	if err := hw.Start(ch); err != nil {
		hw.Close()
		return err
	}

	engine := protocol.New(ch, protocol.Options{
		LineLength:   mc.Engine.LineLength,
		InboundSlots: mc.Engine.InboundSlots,
		Echo:         mc.Engine.Echo,
		Timeouts: protocol.Timeouts{
			Basic:       mc.Timeouts.Basic,
			Network:     mc.Timeouts.Network,
			Inbound:     mc.Timeouts.Inbound,
			Association: mc.Timeouts.Association,
			Transmit:    mc.Timeouts.Transmit,
		},
		Unsupported: mc.Engine.Unsupported,
		PollSlice:   mc.Engine.PollSlice,
		Logger:      modemLogger.Logger,
		Observer:    observability.NewEngineObserver(hw.Name()),
		OnEvent:     s.forward(hw.Name()),
	})

	s.mu.Lock()
	for class, d := range s.overrides {
		if err := engine.ConfigureTimeout(class, d); err != nil {
			s.logger.Warn("Failed to reapply timeout", zap.Stringer("class", class), zap.Error(err))
		}
	}
	s.hw, s.channel, s.engine = hw, ch, engine
	s.collector = observability.NewTransportCollector(hw.Name(), ch.Stats)
	s.mu.Unlock()

	if err := prometheus.Register(s.collector); err != nil {
		s.logger.Warn("Transport metrics not registered", zap.Error(err))
	}
	modemLogger.LogLink("open", nil)
	return nil
}

func (s *ModemService) disconnect() {
	s.running.Store(false)

	s.mu.Lock()
	hw, collector := s.hw, s.collector
	s.hw, s.channel, s.engine, s.collector = nil, nil, nil, nil
	s.mu.Unlock()

	if collector != nil {
		prometheus.Unregister(collector)
	}
	if hw != nil {
		hw.Close()
	}
}

// initialize brings the session to the configured state.
func (s *ModemService) initialize(engine *protocol.Engine) error {
	init := s.config.Modem.Init
	modemLogger := utils.NewModemLogger(s.logger.Logger, s.config.Modem.Link.Type, s.linkName())

	type step struct {
		name     string
		run      func() error
		optional bool
	}
	var steps []step
	if init.Reset {
		steps = append(steps, step{"reset", engine.Reset, false})
	}
	steps = append(steps,
		step{"ping", engine.Ping, false},
		step{"echo", func() error { return engine.SetEcho(init.Echo) }, false},
		step{"multiplex", func() error { return engine.SetMultiplex(init.Multiplex) }, false},
	)
	if init.ExtendedInfo {
		steps = append(steps, step{"extended_info", func() error { return engine.SetExtendedInfo(true) }, true})
	}
	if init.SSID != "" {
		steps = append(steps, step{"join", func() error { return engine.Join(init.SSID, init.Password) }, true})
	}
	steps = append(steps, step{"status", engine.RefreshStatus, true})

	for _, st := range steps {
		start := time.Now()
		err := st.run()
		modemLogger.LogInitStep(st.name, time.Since(start), err)
		if err != nil && !st.optional {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return nil
}

// serve keeps notifications flowing and watches the link until it fails
// or ctx ends.
func (s *ModemService) serve(ctx context.Context, engine *protocol.Engine) error {
	poll := time.NewTicker(s.config.Modem.PollInterval)
	defer poll.Stop()

	var health <-chan time.Time
	if s.config.Modem.HealthInterval > 0 {
		t := time.NewTicker(s.config.Modem.HealthInterval)
		defer t.Stop()
		health = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			if _, err := engine.PollNotifications(); err != nil {
				s.logger.Warn("Notification poll failed", zap.Error(err))
			}
			if err := s.linkErr(); err != nil {
				return err
			}
		case <-health:
			if time.Since(s.lastActivity()) < s.config.Modem.HealthInterval {
				continue
			}
			if err := engine.Ping(); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
		}
	}
}

func (s *ModemService) forward(source string) protocol.EventHandler {
	return func(n protocol.Notification) {
		s.publish(model.EventFromNotification(source, n))
	}
}

func (s *ModemService) publish(ev model.ModemEvent) {
	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
}

func (s *ModemService) current() (*protocol.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine == nil {
		return nil, ErrNotRunning
	}
	return s.engine, nil
}

func (s *ModemService) linkErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hw == nil {
		return ErrNotRunning
	}
	return s.hw.Err()
}

func (s *ModemService) lastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hw == nil {
		return time.Time{}
	}
	return s.hw.LastActivity()
}

func (s *ModemService) linkName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hw != nil {
		return s.hw.Name()
	}
	return describeLink(s.config.Modem.Link)
}

// Status returns the link, session and transport state.
func (s *ModemService) Status() model.ModemStatus {
	status := model.ModemStatus{
		Link:     s.linkName(),
		LinkType: s.config.Modem.Link.Type,
		Running:  s.running.Load(),
	}

	s.mu.RLock()
	engine, ch, hw := s.engine, s.channel, s.hw
	if !s.startedAt.IsZero() {
		started := s.startedAt
		status.StartedAt = &started
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	if engine != nil {
		snap := engine.Snapshot()
		status.Session = &snap
	}
	if ch != nil {
		stats := ch.Stats()
		status.Transport = &stats
	}
	if hw != nil {
		if at := hw.LastActivity(); !at.IsZero() {
			status.LastActivity = &at
		}
	}
	return status
}

func timeoutFromMs(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Execute runs a bare command and returns the lines before OK.
func (s *ModemService) Execute(req *model.ExecuteRequest) (*model.ExchangeResult, error) {
	engine, err := s.current()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	lines, err := engine.Run(req.Command, timeoutFromMs(req.TimeoutMs))
	if err != nil {
		return nil, err
	}
	return &model.ExchangeResult{Command: req.Command, Lines: lines, Duration: time.Since(start).Milliseconds()}, nil
}

// Query reads one parameter, or every name-echoed line when req.All is set.
func (s *ModemService) Query(req *model.QueryRequest) (*model.ExchangeResult, error) {
	engine, err := s.current()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	result := &model.ExchangeResult{Command: req.Command}
	if req.All {
		result.Values, err = engine.QueryLines(req.Command, timeoutFromMs(req.TimeoutMs))
	} else {
		result.Value, err = engine.Query(req.Command, req.MaxParamLen, timeoutFromMs(req.TimeoutMs))
	}
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start).Milliseconds()
	return result, nil
}

// Set assigns parameters.
func (s *ModemService) Set(req *model.SetRequest) (*model.ExchangeResult, error) {
	engine, err := s.current()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	lines, err := engine.Set(req.Command, req.Params, timeoutFromMs(req.TimeoutMs))
	if err != nil {
		return nil, err
	}
	return &model.ExchangeResult{Command: req.Command, Lines: lines, Duration: time.Since(start).Milliseconds()}, nil
}

// Join associates with a network.
func (s *ModemService) Join(req *model.JoinRequest) error {
	engine, err := s.current()
	if err != nil {
		return err
	}
	return engine.Join(req.SSID, req.Password)
}

// Leave drops the association.
func (s *ModemService) Leave() error {
	engine, err := s.current()
	if err != nil {
		return err
	}
	return engine.Leave()
}

// Addresses returns the modem's local addresses.
func (s *ModemService) Addresses() (map[string]string, error) {
	engine, err := s.current()
	if err != nil {
		return nil, err
	}
	return engine.Addresses()
}

// Version returns the firmware version lines.
func (s *ModemService) Version() ([]string, error) {
	engine, err := s.current()
	if err != nil {
		return nil, err
	}
	return engine.Version()
}

// RefreshStatus resynchronises the session from the modem's link table.
func (s *ModemService) RefreshStatus() (*protocol.Snapshot, error) {
	engine, err := s.current()
	if err != nil {
		return nil, err
	}
	if err := engine.RefreshStatus(); err != nil {
		return nil, err
	}
	snap := engine.Snapshot()
	return &snap, nil
}

// Reset restarts the modem and sets the session up again.
func (s *ModemService) Reset() error {
	engine, err := s.current()
	if err != nil {
		return err
	}
	if err := engine.Reset(); err != nil {
		return err
	}
	return s.initialize(engine)
}

// Dial opens a link slot.
func (s *ModemService) Dial(slot int, req *model.DialRequest) error {
	engine, err := s.current()
	if err != nil {
		return err
	}
	return engine.Dial(slot, req.Network, req.Host, req.Port)
}

// CloseLink closes a link slot.
func (s *ModemService) CloseLink(slot int) error {
	engine, err := s.current()
	if err != nil {
		return err
	}
	return engine.Close(slot)
}

// Send writes a payload to a link slot.
func (s *ModemService) Send(slot int, req *model.SendRequest) (int, error) {
	data, err := DecodePayload(req.Data, req.Encoding)
	if err != nil {
		return 0, err
	}
	engine, err := s.current()
	if err != nil {
		return 0, err
	}
	if err := engine.Send(slot, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// DecodePayload turns request text into bytes.
func DecodePayload(data, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "text":
		return []byte(data), nil
	case "base64":
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return b, nil
	case "hex":
		b, err := hex.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding: %s", encoding)
	}
}

// RegisterInbound allocates a receive buffer of maxLen bytes.
func (s *ModemService) RegisterInbound(maxLen int) (int, error) {
	engine, err := s.current()
	if err != nil {
		return 0, err
	}
	h, err := engine.RegisterInbound(make([]byte, maxLen), maxLen)
	return int(h), err
}

// CancelInbound withdraws a registered buffer.
func (s *ModemService) CancelInbound(handle int) error {
	engine, err := s.current()
	if err != nil {
		return err
	}
	return engine.CancelInbound(protocol.Handle(handle))
}

// AwaitInbound waits for the oldest registered buffer to fill.
func (s *ModemService) AwaitInbound(timeout time.Duration) (*model.InboundPayload, error) {
	engine, err := s.current()
	if err != nil {
		return nil, err
	}
	in, err := engine.AwaitInbound(timeout)
	if err != nil {
		return nil, err
	}
	return &model.InboundPayload{
		Handle:    int(in.Handle),
		Slot:      in.Slot,
		Remote:    in.Remote,
		Data:      in.Data,
		Announced: in.Announced,
		Truncated: in.Announced > len(in.Data),
		Partial:   in.Partial,
	}, nil
}

// ConfigureTimeout changes one timeout class. The value survives link
// reconnects.
func (s *ModemService) ConfigureTimeout(className string, d time.Duration) (protocol.Timeouts, error) {
	class, err := protocol.ParseTimeoutClass(className)
	if err != nil {
		return protocol.Timeouts{}, err
	}
	engine, err := s.current()
	if err != nil {
		return protocol.Timeouts{}, err
	}
	if err := engine.ConfigureTimeout(class, d); err != nil {
		return protocol.Timeouts{}, err
	}
	s.mu.Lock()
	s.overrides[class] = d
	s.mu.Unlock()
	return engine.Timeouts(), nil
}

// LinkConfigFrom converts the configured link section.
func LinkConfigFrom(c config.LinkConfig) transport.LinkConfig {
	return transport.LinkConfig{
		Type: transport.LinkType(strings.ToLower(c.Type)),
		Serial: transport.SerialConfig{
			Port:     c.Serial.Port,
			BaudRate: c.Serial.BaudRate,
			DataBits: c.Serial.DataBits,
			StopBits: c.Serial.StopBits,
			Parity:   c.Serial.Parity,
			Poll:     c.Serial.Poll,
		},
		TCP: transport.TCPConfig{
			Host:      c.TCP.Host,
			Port:      c.TCP.Port,
			KeepAlive: c.TCP.KeepAlive,
			Timeout:   c.TCP.ConnectTimeout,
		},
		USB: transport.USBConfig{
			VendorID:     c.USB.VendorID,
			ProductID:    c.USB.ProductID,
			SerialNumber: c.USB.SerialNumber,
			Config:       c.USB.Config,
			Interface:    c.USB.Interface,
			InEndpoint:   c.USB.InEndpoint,
			OutEndpoint:  c.USB.OutEndpoint,
		},
	}
}

func describeLink(c config.LinkConfig) string {
	switch strings.ToLower(c.Type) {
	case "tcp":
		return fmt.Sprintf("%s:%d", c.TCP.Host, c.TCP.Port)
	case "usb":
		return fmt.Sprintf("usb:%s:%s", c.USB.VendorID, c.USB.ProductID)
	default:
		return c.Serial.Port
	}
}

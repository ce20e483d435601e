// internal/protocol/wifi.go
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Helpers for the ESP-AT command set. Each picks its timeout class.

// Ping checks that the peer answers at all.
func (e *Engine) Ping() error {
	return e.Execute("AT", e.Timeout(TimeoutBasic))
}

// Version returns the firmware version lines.
func (e *Engine) Version() ([]string, error) {
	return e.Run("AT+GMR", e.Timeout(TimeoutBasic))
}

// Reset restarts the peer, waits for it to report ready and starts a fresh
// session.
func (e *Engine) Reset() error {
	const command = "AT+RST"
	if err := e.checkSupported(command); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.transactLocked(command, e.Timeout(TimeoutBasic), lineOK); err != nil {
		return err
	}

	// The boot banner is noise at another baud rate; only "ready" matters.
	deadline := time.Now().Add(e.Timeout(TimeoutNetwork))
	for {
		line, err := e.readLine(deadline)
		if err != nil && !errors.Is(err, errLineOverflow) {
			return &CommandError{Command: command, Kind: ErrTimeout, Detail: "peer never reported ready"}
		}
		if strings.TrimSpace(line) == lineReady {
			break
		}
	}

	flushed := e.link.Flush()
	e.ResetSession()
	e.logger.Info("Peer restarted", zap.Int("flushed_bytes", flushed))
	return nil
}

// SetEcho turns command echo on or off.
func (e *Engine) SetEcho(on bool) error {
	command := "ATE0"
	if on {
		command = "ATE1"
	}
	return e.Execute(command, e.Timeout(TimeoutBasic))
}

// SetMultiplex enables or disables multiple concurrent links.
func (e *Engine) SetMultiplex(on bool) error {
	_, err := e.Set("AT+CIPMUX", []any{on}, e.Timeout(TimeoutBasic))
	return err
}

// SetPassthrough selects raw passthrough transfer mode.
func (e *Engine) SetPassthrough(on bool) error {
	_, err := e.Set("AT+CIPMODE", []any{on}, e.Timeout(TimeoutBasic))
	return err
}

// SetExtendedInfo makes inbound announcements carry the remote endpoint.
func (e *Engine) SetExtendedInfo(on bool) error {
	_, err := e.Set("AT+CIPDINFO", []any{on}, e.Timeout(TimeoutBasic))
	return err
}

// Join associates with a network.
func (e *Engine) Join(ssid, password string) error {
	_, err := e.Set("AT+CWJAP", []any{ssid, password}, e.Timeout(TimeoutAssociation))
	if err != nil {
		return err
	}
	// The peer normally reports both steps itself; make sure they stick.
	e.fire(eventAssociate)
	return nil
}

// Leave drops the current association.
func (e *Engine) Leave() error {
	return e.Execute("AT+CWQAP", e.Timeout(TimeoutBasic))
}

// Addresses returns the peer's local addresses keyed by kind (STAIP,
// STAMAC, APIP, ...).
func (e *Engine) Addresses() (map[string]string, error) {
	const command = "AT+CIFSR"
	lines, err := e.Run(command, e.Timeout(TimeoutNetwork))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, value := range paramLines(lines, nameEcho(command)) {
		args, err := ParseParams(value)
		if err != nil || len(args) != 2 {
			return nil, &CommandError{Command: command, Kind: ErrMalformed, Detail: fmt.Sprintf("bad address line %q", value), Lines: lines}
		}
		out[args[0]] = args[1]
	}
	if ip := out["STAIP"]; ip != "" && ip != "0.0.0.0" {
		e.fire(eventAcquire)
	}
	return out, nil
}

// Dial opens link slot to host:port. network is "TCP", "UDP" or "SSL".
func (e *Engine) Dial(slot int, network, host string, port int) error {
	params := []any{strings.ToUpper(network), host, port}
	if e.Multiplexed() {
		if slot < 0 || slot >= MaxSlots {
			return fmt.Errorf("slot %d out of range", slot)
		}
		params = append([]any{slot}, params...)
	} else if slot != 0 {
		return fmt.Errorf("slot %d requires multiplexing", slot)
	}
	_, err := e.Set("AT+CIPSTART", params, e.Timeout(TimeoutNetwork))
	return err
}

// Close shuts link slot. In multiplexed mode slot MaxSlots closes every
// link.
func (e *Engine) Close(slot int) error {
	if !e.Multiplexed() {
		return e.Execute("AT+CIPCLOSE", e.Timeout(TimeoutNetwork))
	}
	if slot < 0 || slot > MaxSlots {
		return fmt.Errorf("slot %d out of range", slot)
	}
	_, err := e.Set("AT+CIPCLOSE", []any{slot}, e.Timeout(TimeoutNetwork))
	return err
}

// Send writes data to link slot: the length is announced, the peer
// prompts with '>', the payload follows and the peer confirms with
// SEND OK.
func (e *Engine) Send(slot int, data []byte) error {
	const name = "AT+CIPSEND"
	if len(data) == 0 {
		return nil
	}
	params := []any{len(data)}
	if e.Multiplexed() {
		if slot < 0 || slot >= MaxSlots {
			return fmt.Errorf("slot %d out of range", slot)
		}
		params = append([]any{slot}, params...)
	}
	formatted, err := FormatParams(params...)
	if err != nil {
		return err
	}
	command := name + "=" + formatted
	if err := e.checkSupported(command); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	timeout := e.Timeout(TimeoutNetwork)
	if _, err := e.transactLocked(command, timeout, lineOK); err != nil {
		return err
	}
	if err := e.awaitPrompt(command, time.Now().Add(timeout)); err != nil {
		return err
	}

	start := time.Now()
	if err := e.sendBytes(command, data); err != nil {
		return err
	}
	_, err = e.await(command, start.Add(timeout), lineSendOK, false)
	e.observer.ObserveExchange(name+" data", outcome(err), time.Since(start))
	return err
}

// awaitPrompt consumes bytes up to the '>' data prompt, which has no line
// terminator, and the single space that follows it when already buffered.
func (e *Engine) awaitPrompt(command string, deadline time.Time) error {
	var one [1]byte
	for {
		n := e.link.Peek(e.look[:len(inboundMarker)])
		if full, _ := markerPrefix(e.look[:n]); full {
			if err := e.receiveInbound(); err != nil {
				e.logger.Warn("Inbound announcement failed", zap.Error(err))
			}
			continue
		}
		if _, err := e.link.ReadFull(one[:], time.Until(deadline)); err != nil {
			return &CommandError{Command: command, Kind: ErrTimeout, Detail: "no data prompt"}
		}
		switch one[0] {
		case '>':
			if n := e.link.Peek(one[:]); n == 1 && one[0] == ' ' {
				_, _ = e.link.ReadFull(one[:], time.Until(deadline))
			}
			return nil
		case '\r', '\n', ' ':
		default:
			e.logger.Debug("Unexpected byte before data prompt", zap.Uint8("byte", one[0]))
		}
	}
}

// RefreshStatus asks the peer for its link table and resynchronises the
// association and slot flags from it.
func (e *Engine) RefreshStatus() error {
	const command = "AT+CIPSTATUS"
	lines, err := e.Run(command, e.Timeout(TimeoutNetwork))
	if err != nil {
		return err
	}

	var open [MaxSlots]bool
	status := -1
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "STATUS:"):
			if status, err = strconv.Atoi(strings.TrimPrefix(line, "STATUS:")); err != nil {
				return &CommandError{Command: command, Kind: ErrMalformed, Detail: fmt.Sprintf("bad status line %q", line), Lines: lines}
			}
		case strings.HasPrefix(line, nameEcho(command)):
			args, err := ParseParams(strings.TrimPrefix(line, nameEcho(command)))
			if err != nil || len(args) == 0 {
				return &CommandError{Command: command, Kind: ErrMalformed, Detail: fmt.Sprintf("bad link line %q", line), Lines: lines}
			}
			slot, err := strconv.Atoi(args[0])
			if err != nil || slot < 0 || slot >= MaxSlots {
				return &CommandError{Command: command, Kind: ErrMalformed, Detail: fmt.Sprintf("bad link id in %q", line), Lines: lines}
			}
			open[slot] = true
		}
	}

	e.updateSession(func(s *session) { s.slots = open })
	switch status {
	case 2, 3, 4:
		e.fire(eventAcquire)
	case 5:
		e.fire(eventLose)
	}
	return nil
}

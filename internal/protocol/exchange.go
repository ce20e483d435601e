// internal/protocol/exchange.go
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"modem-service/internal/transport"
)

// Fixed response lines.
const (
	lineOK         = "OK"
	lineError      = "ERROR"
	lineFail       = "FAIL"
	lineSendOK     = "SEND OK"
	lineSendFail   = "SEND FAIL"
	lineNoFunction = "no this fun"
	lineReady      = "ready"
	busyPrefix     = "busy "
)

// maxInboundHeader bounds the text between the inbound marker and its
// colon.
const maxInboundHeader = 64

var errLineOverflow = errors.New("line overflow")

// transact runs one exchange: send command, then collect lines until
// sentinel, a failure line or the deadline.
func (e *Engine) transact(command string, timeout time.Duration, sentinel string) ([]string, error) {
	if err := e.checkSupported(command); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transactLocked(command, timeout, sentinel)
}

func (e *Engine) transactLocked(command string, timeout time.Duration, sentinel string) ([]string, error) {
	start := time.Now()

	// Clear out notifications that arrived while idle so they are not
	// taken for this command's response.
	if _, err := e.drain(0); err != nil {
		e.logger.Warn("Failed to process pending notifications", zap.Error(err))
	}

	echo := e.echoEnabled()
	var lines []string
	err := e.send(command)
	if err == nil {
		lines, err = e.await(command, start.Add(timeout), sentinel, echo)
	}

	elapsed := time.Since(start)
	e.observer.ObserveExchange(mnemonic(command), outcome(err), elapsed)
	if err != nil {
		e.logger.Warn("Exchange failed",
			zap.String("command", command),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return lines, err
	}
	e.logger.Debug("Exchange completed",
		zap.String("command", command),
		zap.Int("lines", len(lines)),
		zap.Duration("elapsed", elapsed),
	)
	return lines, nil
}

// send queues the command line under the transmit timeout.
func (e *Engine) send(command string) error {
	return e.sendBytes(command, []byte(command+"\r\n"))
}

func (e *Engine) sendBytes(command string, p []byte) error {
	n, err := e.link.Write(p, e.Timeout(TimeoutTransmit))
	if err != nil {
		return &CommandError{
			Command: command,
			Kind:    ErrTimeout,
			Detail:  fmt.Sprintf("transmit stalled after %d of %d bytes", n, len(p)),
		}
	}
	return nil
}

// await reads response lines until sentinel or a failure line. With echo
// set the first non-notification line is the peer repeating the command
// and is dropped.
func (e *Engine) await(command string, deadline time.Time, sentinel string, echo bool) ([]string, error) {
	var lines []string
	overflow := false

	for {
		line, err := e.next(deadline)
		switch {
		case errors.Is(err, errLineOverflow):
			e.logger.Warn("Response line truncated", zap.String("command", command))
			overflow = true
			continue
		case err != nil:
			return lines, &CommandError{
				Command: command,
				Kind:    ErrTimeout,
				Detail:  "no " + sentinel + " before deadline",
				Lines:   lines,
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if note, ok := classify(line); ok {
			e.apply(note)
			continue
		}
		if echo {
			echo = false
			// A terminal line here means the peer did not echo after all.
			if !terminal(line, sentinel) {
				continue
			}
		}

		switch {
		case line == sentinel:
			if overflow {
				return lines, &CommandError{
					Command: command,
					Kind:    ErrExhausted,
					Detail:  fmt.Sprintf("response line longer than %d bytes", len(e.line)-1),
					Lines:   lines,
				}
			}
			return lines, nil
		case line == lineError || line == lineFail || line == lineSendFail:
			detail := line
			if len(lines) > 0 {
				detail = lines[len(lines)-1]
			}
			return lines, &CommandError{Command: command, Kind: ErrProtocol, Detail: detail, Lines: lines}
		case line == lineNoFunction:
			return lines, &CommandError{Command: command, Kind: ErrNotSupported, Detail: "rejected by firmware", Lines: lines}
		case strings.HasPrefix(line, busyPrefix):
			e.logger.Debug("Peer busy", zap.String("command", command), zap.String("line", line))
		default:
			lines = append(lines, line)
		}
	}
}

// next returns the next complete line, first consuming any inbound
// announcements that start at the current position.
func (e *Engine) next(deadline time.Time) (string, error) {
	for {
		if e.link.Buffered() == 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return "", transport.ErrTimeout
			}
			if err := e.link.WaitReadable(1, remaining); err != nil {
				return "", err
			}
		}

		n := e.link.Peek(e.look[:len(inboundMarker)])
		full, partial := markerPrefix(e.look[:n])
		if partial {
			if err := e.link.WaitReadable(n+1, time.Until(deadline)); err != nil {
				return "", err
			}
			continue
		}
		if !full {
			break
		}
		if err := e.receiveInbound(); err != nil {
			e.logger.Warn("Inbound announcement failed", zap.Error(err))
		}
	}
	return e.readLine(deadline)
}

func (e *Engine) readLine(deadline time.Time) (string, error) {
	n, err := e.link.ReadLine(e.line, time.Until(deadline))
	if errors.Is(err, transport.ErrLineOverflow) {
		// Consume the rest so the stream stays framed.
		for errors.Is(err, transport.ErrLineOverflow) {
			_, err = e.link.ReadLine(e.scratch, time.Until(deadline))
		}
		if err != nil {
			return "", err
		}
		return string(e.line[:n]), errLineOverflow
	}
	return string(e.line[:n]), err
}

// receiveInbound consumes one announcement and its payload. The payload
// goes straight into the first waiting buffer, bypassing the line reader.
func (e *Engine) receiveInbound() error {
	timeout := e.Timeout(TimeoutBasic)
	e.link.TryRead(e.look[:len(inboundMarker)])

	header := e.look[:0]
	var one [1]byte
	for {
		if _, err := e.link.ReadFull(one[:], timeout); err != nil {
			return newError(inboundMarker, ErrTimeout, "header %q incomplete", header)
		}
		if one[0] == ':' {
			break
		}
		if len(header) == maxInboundHeader {
			return newError(inboundMarker, ErrMalformed, "header %q has no colon", header)
		}
		header = append(header, one[0])
	}

	slot, length, remote, err := parseInboundHeader(string(header))
	if err != nil {
		return err
	}

	idx := -1
	var buf []byte
	var limit int
	e.link.Critical(func() {
		if idx = e.inbound.claim(); idx >= 0 {
			buf, limit = e.inbound.slots[idx].buf, e.inbound.slots[idx].max
		}
	})

	if idx < 0 {
		dropped := e.discard(length, timeout)
		e.dropped.Inc()
		e.dropBytes.Add(uint64(dropped))
		e.observer.ObserveInbound(dropped, true)
		e.logger.Warn("Inbound data with no waiting buffer dropped",
			zap.Int("slot", slot),
			zap.Int("length", length),
		)
		e.emit(Notification{Kind: NotifyInboundDropped, Slot: slot, Length: length, Remote: remote})
		return nil
	}

	want := length
	if want > limit {
		want = limit
	}
	n, readErr := e.link.ReadFull(buf[:want], timeout)
	if readErr == nil && length > want {
		e.discard(length-want, timeout)
	}

	e.link.Critical(func() {
		e.inbound.complete(idx, n, slot, length, remote, readErr != nil)
	})
	e.observer.ObserveInbound(n, false)
	e.logger.Debug("Inbound data delivered",
		zap.Int("handle", idx),
		zap.Int("slot", slot),
		zap.Int("announced", length),
		zap.Int("stored", n),
		zap.Bool("partial", readErr != nil),
	)
	e.emit(Notification{Kind: NotifyInbound, Slot: slot, Length: n, Remote: remote})
	return nil
}

// discard consumes up to n payload bytes and returns how many it read.
func (e *Engine) discard(n int, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	total := 0
	for total < n {
		chunk := e.scratch
		if n-total < len(chunk) {
			chunk = chunk[:n-total]
		}
		got, err := e.link.ReadFull(chunk, time.Until(deadline))
		total += got
		if err != nil {
			break
		}
	}
	return total
}

// drain classifies everything already buffered without an exchange in
// flight. With wait > 0 it first waits that long for a byte to arrive.
// Incomplete lines are left buffered.
func (e *Engine) drain(wait time.Duration) (int, error) {
	if e.link.Buffered() == 0 {
		if wait <= 0 || e.link.WaitReadable(1, wait) != nil {
			return 0, nil
		}
	}

	handled := 0
	for e.link.Buffered() > 0 {
		n := e.link.Peek(e.look)
		full, partial := markerPrefix(e.look[:n])
		switch {
		case full:
			if err := e.receiveInbound(); err != nil {
				return handled, err
			}
			handled++
			continue
		case partial:
			if e.link.WaitReadable(n+1, e.pollSlice) != nil {
				return handled, nil
			}
			continue
		}

		if bytes.IndexByte(e.look[:n], '\n') < 0 && n < len(e.look) {
			if e.link.WaitReadable(n+1, e.pollSlice) != nil {
				return handled, nil
			}
			continue
		}

		line, err := e.readLine(time.Now().Add(e.pollSlice))
		if errors.Is(err, errLineOverflow) {
			e.logger.Warn("Unsolicited line truncated", zap.String("line", line))
			continue
		}
		if err != nil {
			return handled, nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if note, ok := classify(line); ok {
			e.apply(note)
			handled++
			continue
		}
		e.logger.Debug("Discarding unsolicited line", zap.String("line", line))
	}
	return handled, nil
}

func terminal(line, sentinel string) bool {
	switch line {
	case sentinel, lineError, lineFail, lineSendFail, lineNoFunction:
		return true
	}
	return false
}

func (e *Engine) echoEnabled() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.echo
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	default:
		return "error"
	}
}

// internal/protocol/commands.go
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// mnemonic strips the query or assignment suffix from a command.
func mnemonic(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.IndexAny(command, "=?"); i >= 0 {
		return command[:i]
	}
	return command
}

// nameEcho is the prefix the peer puts in front of parameter lines:
// "AT+CIPMUX" answers with "+CIPMUX:".
func nameEcho(command string) string {
	m := mnemonic(command)
	if len(m) >= 2 && strings.EqualFold(m[:2], "AT") {
		m = m[2:]
	}
	return m + ":"
}

func validateCommand(command string) error {
	if len(command) < 2 || !strings.EqualFold(command[:2], "AT") {
		return fmt.Errorf("command %q does not start with AT", command)
	}
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("command %q contains a line terminator", command)
	}
	return nil
}

func (e *Engine) checkSupported(command string) error {
	if err := validateCommand(command); err != nil {
		return err
	}
	e.stateMu.RLock()
	_, blocked := e.unsupported[strings.ToUpper(mnemonic(command))]
	e.stateMu.RUnlock()
	if blocked {
		e.observer.ObserveExchange(mnemonic(command), outcome(ErrNotSupported), 0)
		return &CommandError{Command: command, Kind: ErrNotSupported, Detail: "not implemented by peer firmware"}
	}
	return nil
}

func (e *Engine) timeoutOr(timeout time.Duration, class TimeoutClass) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return e.Timeout(class)
}

// Execute sends a bare command and waits for OK. A non-positive timeout
// uses the basic class.
func (e *Engine) Execute(command string, timeout time.Duration) error {
	_, err := e.Run(command, timeout)
	return err
}

// Run is Execute returning the parameter lines that preceded OK.
func (e *Engine) Run(command string, timeout time.Duration) ([]string, error) {
	lines, err := e.transact(command, e.timeoutOr(timeout, TimeoutBasic), lineOK)
	if err == nil {
		e.track(mnemonic(command), assignedArgs(command))
	}
	return lines, err
}

// assignedArgs returns the parameters after the assignment marker of a raw
// command line, or nil when there is none.
func assignedArgs(command string) []string {
	_, suffix, ok := strings.Cut(command, "=")
	if !ok {
		return nil
	}
	args, err := ParseParams(suffix)
	if err != nil {
		return strings.Split(suffix, ",")
	}
	return args
}

// Query sends command with the query marker and returns the text after the
// first "<name>:" response line. A response longer than maxParamLen fails
// with ErrExhausted; a non-positive maxParamLen disables the check.
func (e *Engine) Query(command string, maxParamLen int, timeout time.Duration) (string, error) {
	values, err := e.QueryLines(command, timeout)
	if err != nil {
		return "", err
	}
	value := values[0]
	if maxParamLen > 0 && len(value) > maxParamLen {
		return "", &CommandError{
			Command: command + "?",
			Kind:    ErrExhausted,
			Detail:  fmt.Sprintf("response of %d bytes exceeds %d", len(value), maxParamLen),
		}
	}
	return value, nil
}

// QueryLines returns the text after every "<name>:" response line.
func (e *Engine) QueryLines(command string, timeout time.Duration) ([]string, error) {
	command = mnemonic(command)
	lines, err := e.transact(command+"?", e.timeoutOr(timeout, TimeoutBasic), lineOK)
	if err != nil {
		return nil, err
	}
	values := paramLines(lines, nameEcho(command))
	if len(values) == 0 {
		return nil, &CommandError{
			Command: command + "?",
			Kind:    ErrMalformed,
			Detail:  "no " + nameEcho(command) + " line in response",
			Lines:   lines,
		}
	}
	if args, err := ParseParams(values[0]); err == nil {
		e.track(command, args)
	}
	return values, nil
}

// QueryParams is Query followed by ParseParams.
func (e *Engine) QueryParams(command string, timeout time.Duration) ([]string, error) {
	value, err := e.Query(command, 0, timeout)
	if err != nil {
		return nil, err
	}
	params, err := ParseParams(value)
	if err != nil {
		return nil, &CommandError{Command: command + "?", Kind: ErrMalformed, Detail: err.Error()}
	}
	return params, nil
}

// Set sends command with the assignment marker and params, and waits for
// OK. Confirmation lines that preceded OK are returned.
func (e *Engine) Set(command string, params []any, timeout time.Duration) ([]string, error) {
	return e.set(command, params, e.timeoutOr(timeout, TimeoutBasic), lineOK)
}

func (e *Engine) set(command string, params []any, timeout time.Duration, sentinel string) ([]string, error) {
	command = mnemonic(command)
	formatted, err := FormatParams(params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	lines, err := e.transact(command+"="+formatted, timeout, sentinel)
	if err == nil {
		args, _ := ParseParams(formatted)
		e.track(command, args)
	}
	return lines, err
}

func paramLines(lines []string, prefix string) []string {
	var out []string
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			out = append(out, strings.TrimSpace(line[len(prefix):]))
		}
	}
	return out
}

// sessionEffects keeps session state in step with commands that change it,
// whichever path issued them.
var sessionEffects = map[string]func(e *Engine, args []string){
	"ATE0": func(e *Engine, _ []string) { e.updateSession(func(s *session) { s.echo = false }) },
	"ATE1": func(e *Engine, _ []string) { e.updateSession(func(s *session) { s.echo = true }) },
	"AT+CIPMUX": func(e *Engine, args []string) {
		on := flagArg(args)
		e.updateSession(func(s *session) { s.multiplex = on })
	},
	"AT+CIPMODE": func(e *Engine, args []string) {
		on := flagArg(args)
		e.updateSession(func(s *session) { s.passthrough = on })
	},
	"AT+CIPDINFO": func(e *Engine, args []string) {
		on := flagArg(args)
		e.updateSession(func(s *session) { s.extended = on })
	},
	"AT+CWQAP": func(e *Engine, _ []string) {
		e.updateSession(func(s *session) { s.clearSlots() })
		e.fire(eventLose)
	},
	"AT+CIPSTART": func(e *Engine, args []string) {
		if args == nil {
			return
		}
		if slot, ok := e.slotArg(args); ok {
			e.setSlot(slot, true)
		}
	},
	"AT+CIPCLOSE": func(e *Engine, args []string) {
		slot, ok := e.slotArg(args)
		switch {
		case !ok && len(args) == 0:
			e.setSlot(0, false)
		case ok && slot == MaxSlots:
			e.updateSession(func(s *session) { s.clearSlots() })
		case ok:
			e.setSlot(slot, false)
		}
	},
}

func (e *Engine) track(command string, args []string) {
	effect, ok := sessionEffects[strings.ToUpper(command)]
	if !ok {
		return
	}
	effect(e, args)
	e.logger.Debug("Session updated", zap.String("command", command), zap.Strings("args", args))
}

func (e *Engine) updateSession(fn func(s *session)) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	fn(&e.state)
}

// slotArg returns the link id a link command refers to: the first argument
// in multiplexed mode, otherwise slot 0.
func (e *Engine) slotArg(args []string) (int, bool) {
	if !e.Multiplexed() {
		return 0, true
	}
	if len(args) == 0 {
		return 0, false
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil || slot < 0 || slot > MaxSlots {
		return 0, false
	}
	return slot, true
}

func flagArg(args []string) bool {
	return len(args) > 0 && args[0] == "1"
}

package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"modem-service/internal/protocol"
	"modem-service/internal/transport"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"exchange timeout", &protocol.CommandError{Command: "AT", Kind: protocol.ErrTimeout}, http.StatusGatewayTimeout},
		{"transport timeout", fmt.Errorf("write: %w", transport.ErrTimeout), http.StatusGatewayTimeout},
		{"protocol", &protocol.CommandError{Kind: protocol.ErrProtocol}, http.StatusBadGateway},
		{"malformed", &protocol.CommandError{Kind: protocol.ErrMalformed}, http.StatusBadGateway},
		{"exhausted", &protocol.CommandError{Kind: protocol.ErrExhausted}, http.StatusTooManyRequests},
		{"not supported", &protocol.CommandError{Kind: protocol.ErrNotSupported}, http.StatusNotImplemented},
		{"closed", transport.ErrClosed, http.StatusServiceUnavailable},
		{"plain", errors.New("slot 9 out of range"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorStatus(tt.err); got != tt.want {
				t.Errorf("ErrorStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestModemErrorResponseCarriesLines(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-1")

	err := &protocol.CommandError{
		Command: `AT+CWJAP="home","x"`,
		Kind:    protocol.ErrProtocol,
		Detail:  "+CWJAP:1",
		Lines:   []string{"+CWJAP:1"},
	}
	ModemErrorResponse(c, "Join failed", err)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.RequestID != "req-1" || resp.Error == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Error.Code != "MODEM_ERROR" || len(resp.Error.Lines) != 1 || resp.Error.Lines[0] != "+CWJAP:1" {
		t.Errorf("error = %+v", resp.Error)
	}
}

package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"modem-service/internal/model"
	"modem-service/internal/protocol"
	"modem-service/internal/transport"
	"modem-service/internal/utils"
)

type fakeModem struct {
	running  bool
	executed []string
	dialed   map[int]*model.DialRequest
	inbound  *model.InboundPayload
	err      error
}

func (f *fakeModem) Status() model.ModemStatus {
	return model.ModemStatus{Link: "fake", LinkType: "tcp", Running: f.running}
}

func (f *fakeModem) IsRunning() bool { return f.running }

func (f *fakeModem) Execute(req *model.ExecuteRequest) (*model.ExchangeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.executed = append(f.executed, req.Command)
	return &model.ExchangeResult{Command: req.Command, Lines: []string{"line"}}, nil
}

func (f *fakeModem) Query(req *model.QueryRequest) (*model.ExchangeResult, error) {
	return &model.ExchangeResult{Command: req.Command, Value: "1"}, f.err
}

func (f *fakeModem) Set(req *model.SetRequest) (*model.ExchangeResult, error) {
	return &model.ExchangeResult{Command: req.Command}, f.err
}

func (f *fakeModem) Join(*model.JoinRequest) error {
	return f.err
}

func (f *fakeModem) Leave() error {
	return f.err
}

func (f *fakeModem) Version() ([]string, error) {
	return []string{"AT version:1.7"}, f.err
}

func (f *fakeModem) Reset() error {
	return f.err
}

func (f *fakeModem) CloseLink(int) error {
	return f.err
}

func (f *fakeModem) CancelInbound(int) error {
	return f.err
}

func (f *fakeModem) RegisterInbound(maxLen int) (int, error) {
	return 3, f.err
}

func (f *fakeModem) Addresses() (map[string]string, error) {
	return map[string]string{"STAIP": "10.0.0.2"}, f.err
}

func (f *fakeModem) RefreshStatus() (*protocol.Snapshot, error) {
	return &protocol.Snapshot{}, f.err
}

func (f *fakeModem) Dial(slot int, req *model.DialRequest) error {
	if f.dialed == nil {
		f.dialed = make(map[int]*model.DialRequest)
	}
	f.dialed[slot] = req
	return f.err
}

func (f *fakeModem) Send(slot int, req *model.SendRequest) (int, error) {
	return len(req.Data), f.err
}

func (f *fakeModem) AwaitInbound(time.Duration) (*model.InboundPayload, error) {
	if f.inbound == nil {
		return nil, protocol.ErrTimeout
	}
	return f.inbound, nil
}

func (f *fakeModem) ConfigureTimeout(className string, d time.Duration) (protocol.Timeouts, error) {
	class, err := protocol.ParseTimeoutClass(className)
	if err != nil {
		return protocol.Timeouts{}, err
	}
	t := protocol.DefaultTimeouts()
	if class == protocol.TimeoutBasic {
		t.Basic = d
	}
	return t, nil
}

func newTestRouter(modem ModemController) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewModemHandler(modem, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, utils.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp utils.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestModemHandlerRoutes(t *testing.T) {
	modem := &fakeModem{running: true}
	router := newTestRouter(modem)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"status", http.MethodGet, "/api/v1/modem/status", nil, http.StatusOK},
		{"version", http.MethodGet, "/api/v1/modem/version", nil, http.StatusOK},
		{"execute", http.MethodPost, "/api/v1/modem/execute", model.ExecuteRequest{Command: "AT"}, http.StatusOK},
		{"execute missing command", http.MethodPost, "/api/v1/modem/execute", map[string]string{}, http.StatusBadRequest},
		{"query", http.MethodPost, "/api/v1/modem/query", model.QueryRequest{Command: "AT+CWMODE"}, http.StatusOK},
		{"set", http.MethodPost, "/api/v1/modem/set", model.SetRequest{Command: "AT+CWMODE", Params: []interface{}{1}}, http.StatusOK},
		{"join", http.MethodPost, "/api/v1/modem/wifi/join", model.JoinRequest{SSID: "lab", Password: "secret"}, http.StatusOK},
		{"addresses", http.MethodGet, "/api/v1/modem/wifi/addresses", nil, http.StatusOK},
		{"dial", http.MethodPost, "/api/v1/modem/links/2", model.DialRequest{Network: "TCP", Host: "example.com", Port: 80}, http.StatusOK},
		{"dial bad network", http.MethodPost, "/api/v1/modem/links/2", model.DialRequest{Network: "SCTP", Host: "example.com", Port: 80}, http.StatusBadRequest},
		{"dial bad slot", http.MethodPost, "/api/v1/modem/links/9", model.DialRequest{Network: "TCP", Host: "example.com", Port: 80}, http.StatusBadRequest},
		{"close all", http.MethodDelete, "/api/v1/modem/links/5", nil, http.StatusOK},
		{"send", http.MethodPost, "/api/v1/modem/links/0/send", model.SendRequest{Data: "hello"}, http.StatusOK},
		{"register inbound", http.MethodPost, "/api/v1/modem/inbound", model.InboundRequest{MaxLen: 64}, http.StatusCreated},
		{"register inbound too large", http.MethodPost, "/api/v1/modem/inbound", model.InboundRequest{MaxLen: 1 << 20}, http.StatusBadRequest},
		{"await inbound timeout", http.MethodGet, "/api/v1/modem/inbound/next?timeout_ms=5", nil, http.StatusGatewayTimeout},
		{"await inbound bad timeout", http.MethodGet, "/api/v1/modem/inbound/next?timeout_ms=x", nil, http.StatusBadRequest},
		{"cancel inbound", http.MethodDelete, "/api/v1/modem/inbound/3", nil, http.StatusOK},
		{"timeout", http.MethodPut, "/api/v1/modem/timeouts/basic", model.TimeoutRequest{TimeoutMs: 250}, http.StatusOK},
		{"timeout unknown class", http.MethodPut, "/api/v1/modem/timeouts/bogus", model.TimeoutRequest{TimeoutMs: 250}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, router, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if resp.Success != (tt.status < 300) {
				t.Errorf("success = %v for status %d", resp.Success, rec.Code)
			}
		})
	}

	if got := modem.dialed[2]; got == nil || got.Host != "example.com" {
		t.Errorf("dial not forwarded: %+v", got)
	}
	if len(modem.executed) != 1 || modem.executed[0] != "AT" {
		t.Errorf("executed = %v", modem.executed)
	}
}

func TestModemHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"timeout", protocol.ErrTimeout, http.StatusGatewayTimeout, "MODEM_TIMEOUT"},
		{"rejected", protocol.ErrProtocol, http.StatusBadGateway, "MODEM_ERROR"},
		{"link down", transport.ErrClosed, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"unsupported", protocol.ErrNotSupported, http.StatusNotImplemented, "NOT_SUPPORTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeModem{err: tt.err})
			rec, resp := do(t, router, http.MethodPost, "/api/v1/modem/execute", model.ExecuteRequest{Command: "AT"})
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.code)
			}
		})
	}
}

func TestModemHandlerAwaitInboundText(t *testing.T) {
	modem := &fakeModem{inbound: &model.InboundPayload{Handle: 1, Slot: 0, Data: []byte("hi"), Announced: 2}}
	router := newTestRouter(modem)

	rec, resp := do(t, router, http.MethodGet, "/api/v1/modem/inbound/next", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T", resp.Data)
	}
	if data["text"] != "hi" {
		t.Errorf("text = %v", data["text"])
	}
	if data["data"] != "aGk=" {
		t.Errorf("data = %v", data["data"])
	}
}

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modem-service/internal/protocol"
	"modem-service/internal/transport"
)

var _ protocol.Observer = (*EngineObserver)(nil)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	o := NewEngineObserver("ttyUSB0")
	o.ObserveExchange("AT+CIPSTATUS", "ok", 12*time.Millisecond)
	o.ObserveExchange("AT+CIPDINFO", "not_supported", 0)
	o.ObserveNotification("slot_connected")
	o.ObserveInbound(64, false)
	o.ObserveInbound(5, true)
	o.ObserveAssociation("associated")
	RecordHTTPRequest("GET", "/api/v1/modem/status", 200, 3*time.Millisecond)
}

func TestTransportCollectorReportsStats(t *testing.T) {
	stats := transport.Stats{
		BytesReceived:    120,
		BytesSent:        40,
		Overruns:         2,
		RxBuffered:       17,
		TxBuffered:       3,
		ReceiveThrottled: true,
	}
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewTransportCollector("pipe", func() transport.Stats { return stats }))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "ring" {
					name += "/" + lp.GetValue()
				}
			}
			switch {
			case m.GetCounter() != nil:
				values[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[name] = m.GetGauge().GetValue()
			}
		}
	}

	want := map[string]float64{
		"modem_transport_received_bytes_total": 120,
		"modem_transport_sent_bytes_total":     40,
		"modem_transport_overruns_total":       2,
		"modem_transport_buffered_bytes/rx":    17,
		"modem_transport_buffered_bytes/tx":    3,
		"modem_transport_receive_throttled":    1,
	}
	for name, v := range want {
		if values[name] != v {
			t.Errorf("%s = %v, want %v", name, values[name], v)
		}
	}
}

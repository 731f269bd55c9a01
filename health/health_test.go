package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatus(t *testing.T) {
	h := NewHealthy("engine", "running")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.False(t, h.Timestamp.IsZero())

	u := NewUnhealthy("channel", "dial ws://10.0.0.5:8080/VPCA refused")
	assert.False(t, u.Healthy)
	assert.True(t, u.IsUnhealthy())
	assert.Equal(t, "dial [URL] refused", u.Message)

	d := NewDegraded("ingest", "one channel down")
	assert.True(t, d.IsDegraded())
	assert.False(t, d.Healthy)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"websocket url", "failed ws://host:9000/CHAT", "failed [URL]"},
		{"nats url", "connect nats://user:pw@nats:4222", "connect [URL]"},
		{"ip address", "refused by 192.168.1.10", "refused by [IP]"},
		{"ip and port", "dial tcp 10.1.1.1:4222", "dial tcp [IP][PORT]"},
		{"credential", "auth failed token=abc123", "auth failed [REDACTED]"},
		{"plain", "queue full", "queue full"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Sanitize(test.input))
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"one unhealthy", []Status{NewHealthy("a", ""), NewUnhealthy("b", "")}, StatusDegraded},
		{"all unhealthy", []Status{NewUnhealthy("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			agg := Aggregate("system", test.subs)
			assert.Equal(t, test.expected, agg.Status)
			assert.Len(t, agg.SubStatuses, len(test.subs))
		})
	}
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	agg := Aggregate("system", subs)
	agg.SubStatuses[0].Message = "changed"
	assert.Equal(t, "", subs[0].Message)
}

func TestMonitor_Check(t *testing.T) {
	m := NewMonitor("paramstream")
	m.Register("b", func() Status { return NewDegraded("", "slow") })
	m.Register("a", func() Status { return NewHealthy("", "ok") })

	status := m.Check()
	assert.Equal(t, "paramstream", status.Component)
	assert.True(t, status.IsDegraded())
	require.Len(t, status.SubStatuses, 2)
	assert.Equal(t, "a", status.SubStatuses[0].Component)
	assert.Equal(t, "b", status.SubStatuses[1].Component)

	m.Remove("b")
	assert.True(t, m.Check().IsHealthy())
}

func TestMonitor_ServeHTTP(t *testing.T) {
	m := NewMonitor("paramstream")
	m.Register("ingest", func() Status { return NewUnhealthy("", "terminated") })

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)

	m.Register("ingest", func() Status { return NewHealthy("", "streaming") })
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor("paramstream")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Register("c", func() Status { return NewHealthy("", "") })
		}()
		go func() {
			defer wg.Done()
			_ = m.Check()
		}()
	}
	wg.Wait()
	assert.True(t, m.Check().IsHealthy())
}

package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/metrics"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/registry"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/service"
)

func testApp(t *testing.T) (*fiber.App, *service.MemoryHistory) {
	t.Helper()
	reg, err := registry.New([]domain.MeterConfig{
		{MeterID: "SOLAR_001", MeterType: domain.MeterSolar, Endpoint: "http://m/1", AccessToken: "secret-token"},
		{MeterID: "GRID_001", MeterType: domain.MeterGrid, Endpoint: "http://m/2"},
	})
	require.NoError(t, err)

	hist := service.NewMemoryHistory(50)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	m.CycleCompleted()

	app := fiber.New()
	Register(app, Deps{
		Registry: reg,
		History:  hist,
		Gatherer: promReg,
		Status: StatusSource{
			Loop:       func() string { return "running" },
			Listener:   func() string { return "subscribed" },
			QueueDepth: func() int { return 3 },
		},
	})
	return app, hist
}

func get(t *testing.T, app *fiber.App, path string) (int, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealthAndStatus(t *testing.T) {
	app, _ := testApp(t)

	code, body := get(t, app, "/health")
	require.Equal(t, 200, code)
	require.Equal(t, "ok", string(body))

	code, body = get(t, app, "/status")
	require.Equal(t, 200, code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(body, &st))
	require.Equal(t, "running", st["monitor"])
	require.Equal(t, "subscribed", st["push_listener"])
	require.Equal(t, float64(3), st["push_queue"])
	require.Equal(t, float64(2), st["meters"])
}

func TestMetersNeverExposeTokens(t *testing.T) {
	app, _ := testApp(t)

	code, body := get(t, app, "/meters")
	require.Equal(t, 200, code)
	require.NotContains(t, string(body), "secret-token")
	require.Contains(t, string(body), "SOLAR_001")

	code, body = get(t, app, "/meters/SOLAR_001")
	require.Equal(t, 200, code)
	require.NotContains(t, string(body), "secret-token")

	code, _ = get(t, app, "/meters/NOPE")
	require.Equal(t, 404, code)
}

func TestMeterSubmissionsAndSummary(t *testing.T) {
	app, hist := testApp(t)
	now := time.Now()
	add := func(id string, v float64, status domain.SubmissionStatus, age time.Duration) {
		hist.Add(domain.SubmissionRecord{
			ID: id, MeterID: "SOLAR_001", Value: v, Status: status,
			ObservedAt: now.Add(-age).Unix(), CreatedAt: now.Add(-age),
		})
	}
	add("a", 1, domain.StatusAccepted, 3*time.Hour)
	add("b", 2, domain.StatusAccepted, 2*time.Hour)
	add("c", 3, domain.StatusAccepted, time.Hour)
	add("d", 9, domain.StatusRejected, 30*time.Minute)
	add("old", 100, domain.StatusAccepted, 48*time.Hour)

	code, body := get(t, app, "/meters/SOLAR_001/submissions?hours=24")
	require.Equal(t, 200, code)
	var recs []domain.SubmissionRecord
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 4)
	require.Equal(t, "d", recs[0].ID)

	code, body = get(t, app, "/meters/SOLAR_001/summary?hours=24")
	require.Equal(t, 200, code)
	var s Summary
	require.NoError(t, json.Unmarshal(body, &s))
	require.Equal(t, 3, s.Accepted)
	require.Equal(t, 1, s.Rejected)
	require.InDelta(t, 6.0, s.TotalKWh, 1e-9)
	require.InDelta(t, 2.0, s.AverageKWh, 1e-9)
	require.InDelta(t, 0.006, s.TotalMWh, 1e-9)

	code, _ = get(t, app, "/meters/NOPE/summary")
	require.Equal(t, 404, code)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize("GRID_001", 24, nil)
	require.Zero(t, s.TotalKWh)
	require.Zero(t, s.AverageKWh)
	require.Nil(t, s.MovingAverage)
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := testApp(t)
	code, body := get(t, app, "/metrics")
	require.Equal(t, 200, code)
	require.Contains(t, string(body), "monitor_cycles_total 1")
}

func TestRecentSubmissions(t *testing.T) {
	app, hist := testApp(t)
	hist.Add(domain.SubmissionRecord{ID: "x", MeterID: "GRID_001", CreatedAt: time.Now()})

	code, body := get(t, app, "/submissions?limit=10")
	require.Equal(t, 200, code)
	require.Contains(t, string(body), `"id":"x"`)
}

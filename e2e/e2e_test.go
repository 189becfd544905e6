//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/app"
	"github.com/kilianp07/evstation/config"
	"github.com/kilianp07/evstation/core/auditlog"
	"github.com/kilianp07/evstation/core/factory"
	coremetrics "github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/station"
	"github.com/kilianp07/evstation/infra/mqtt"
	"github.com/kilianp07/evstation/test/util"
)

// junitReport is a minimal JUnit XML report so CI systems can display the
// results. It is written when E2E_JUNIT names a file.
type junitReport struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string  `xml:"name,attr"`
	Failure *string `xml:"failure,omitempty"`
	Time    float64 `xml:"time,attr"`
}

func writeJUnit(path string, rep junitReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(rep)
}

func post(t *testing.T, url, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// Test_E2E_StationFlow runs the whole service against real Mosquitto and
// InfluxDB instances: sessions are driven over HTTP, setpoints observed on
// the broker and reallocations read back from Influx.
func Test_E2E_StationFlow(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	start := time.Now()

	db, stopInflux, err := util.StartInflux(ctx)
	if err != nil {
		t.Skipf("unable to start influx: %v", err)
	}
	defer stopInflux()
	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	defer cleanup()

	reader := newInfluxReader(db.URL, db.Org, db.Bucket, db.Token)
	defer reader.close()
	require.NoError(t, reader.ensureBucket(ctx))

	received, unsubscribe, err := util.SubscribeMQTT(broker, "evstation/EV_STATION_E2E/#")
	require.NoError(t, err)
	defer unsubscribe()

	cfg := &config.Config{
		Station: station.Config{
			ID:           "EV_STATION_E2E",
			GridCapacity: 300,
			Chargers: []station.ChargerConfig{
				{ID: "CP001", MaxPower: 200, Connectors: 2},
				{ID: "CP002", MaxPower: 200, Connectors: 1},
			},
		},
		HTTP: config.HTTPConfig{Addr: "127.0.0.1:0"},
		MQTT: mqtt.Config{Enabled: true, Broker: broker, ClientID: "evstation-e2e"},
		Metrics: coremetrics.Config{
			Sinks: []factory.ModuleConfig{
				{Type: "influx", Conf: map[string]any{"url": db.URL, "token": db.Token, "org": db.Org, "bucket": db.Bucket}},
				{Type: "prometheus"},
			},
			PrometheusPort: "127.0.0.1:19100",
		},
		AuditLog: auditlog.Config{Backend: auditlog.BackendSQLite, Path: filepath.Join(t.TempDir(), "audit.db")},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	svc, err := app.New(cfg)
	require.NoError(t, err)
	defer svc.Close() //nolint:errcheck
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = svc.Run(runCtx) }()
	require.Eventually(t, func() bool { return svc.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	base := fmt.Sprintf("http://%s", svc.Addr())
	require.NoError(t, util.WaitForHTTP(ctx, base+"/station/status", http.StatusOK))

	s1 := post(t, base+"/sessions", `{"chargerId":"CP001","connectorId":0,"vehicleMaxPower":200}`)
	s2 := post(t, base+"/sessions", `{"chargerId":"CP002","connectorId":0,"vehicleMaxPower":200}`)
	assert.Equal(t, float64(200), s1["allocatedPower"])
	assert.Equal(t, float64(150), s2["allocatedPower"])

	topic := mqtt.SetpointTopic("evstation", "EV_STATION_E2E", "CP002", 0)
	var got mqtt.Setpoint
	for got.SessionID != s2["sessionId"] {
		select {
		case m := <-received:
			if m.Topic() == topic {
				require.NoError(t, json.Unmarshal(m.Payload(), &got))
			}
		case <-ctx.Done():
			t.Fatal("no setpoint for the second session")
		}
	}
	assert.Equal(t, 150, got.PowerKW)

	require.Eventually(t, func() bool {
		vals, err := reader.fieldValues(ctx, "station_reallocation", "allocated_power_kw", map[string]string{"station_id": "EV_STATION_E2E"})
		return err == nil && len(vals) >= 2
	}, 30*time.Second, 500*time.Millisecond)
	vals, err := reader.fieldValues(ctx, "session_allocation", "power_kw", map[string]string{"session_id": s2["sessionId"].(string)})
	require.NoError(t, err)
	require.NotEmpty(t, vals)
	assert.EqualValues(t, 150, vals[len(vals)-1])

	require.NoError(t, util.WaitForMetric(ctx, "http://127.0.0.1:19100/metrics",
		`evstation_active_sessions{station_id="EV_STATION_E2E"} 2`))

	if path := os.Getenv("E2E_JUNIT"); path != "" {
		rep := junitReport{Name: "e2e", Tests: 1, Cases: []junitTestCase{{Name: t.Name(), Time: time.Since(start).Seconds()}}}
		if err := writeJUnit(path, rep); err != nil {
			t.Logf("write junit: %v", err)
		}
	}
}

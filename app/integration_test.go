//go:build integration

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/infra/mqtt"
	"github.com/kilianp07/evstation/test/util"
)

func TestServiceSetpointsOverMQTT(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Skipf("mosquitto unavailable: %v", err)
	}
	defer cleanup()

	received, unsubscribe, err := util.SubscribeMQTT(broker, "evstation/EV_STATION_TEST/#")
	require.NoError(t, err)
	defer unsubscribe()

	cfg := testConfig(t)
	cfg.MQTT = mqtt.Config{Enabled: true, Broker: broker, ClientID: "evstation-it"}
	cfg.SetDefaults()
	svc := newService(t, cfg)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = svc.Run(runCtx) }()
	require.Eventually(t, func() bool { return svc.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	base := fmt.Sprintf("http://%s", svc.Addr())
	require.NoError(t, util.WaitForHTTP(ctx, base+"/station/status", http.StatusOK))

	out := postJSON(t, base+"/sessions", `{"chargerId":"CP002","connectorId":0,"vehicleMaxPower":120}`)
	require.Equal(t, float64(120), out["allocatedPower"])

	topic := mqtt.SetpointTopic("evstation", "EV_STATION_TEST", "CP002", 0)
	for {
		select {
		case m := <-received:
			if m.Topic() != topic {
				continue
			}
			var sp mqtt.Setpoint
			require.NoError(t, json.Unmarshal(m.Payload(), &sp))
			assert.Equal(t, 120, sp.PowerKW)
			assert.Equal(t, out["sessionId"], sp.SessionID)
			return
		case <-ctx.Done():
			t.Fatal("no setpoint received")
		}
	}
}

// Package util provides helpers shared by the integration tests: disposable
// brokers and databases, an MQTT observer and HTTP polling.
package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	MosquittoReadyTimeout = 5 * time.Second
	HTTPReadyTimeout      = 5 * time.Second
	InfluxReadyTimeout    = 60 * time.Second

	pollInterval = 50 * time.Millisecond
)

// WaitForHTTP polls url until it answers with the wanted status code or the
// context is done.
func WaitForHTTP(ctx context.Context, url string, want int) error {
	_, err := poll(ctx, url, func(code int, _ []byte) bool { return code == want })
	if err != nil {
		return fmt.Errorf("%s never answered %d: %w", url, want, err)
	}
	return nil
}

// WaitForMetric polls the given metrics URL until the provided substring is
// found in the output or the context is done.
func WaitForMetric(ctx context.Context, metricsURL, substr string) error {
	_, err := poll(ctx, metricsURL, func(_ int, body []byte) bool {
		return strings.Contains(string(body), substr)
	})
	if err != nil {
		return fmt.Errorf("metric %q not found: %w", substr, err)
	}
	return nil
}

func poll(ctx context.Context, url string, done func(int, []byte) bool) ([]byte, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			body, rerr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if rerr != nil {
				return nil, fmt.Errorf("read body: %w", rerr)
			}
			if done(resp.StatusCode, body) {
				return body, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// SubscribeMQTT connects an observer to broker and forwards every message
// matching filter. The returned function disconnects the observer.
func SubscribeMQTT(broker, filter string) (<-chan paho.Message, func(), error) {
	received := make(chan paho.Message, 64)
	cli := paho.NewClient(paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("observer-%d", time.Now().UnixNano())))
	if tok := cli.Connect(); !tok.WaitTimeout(MosquittoReadyTimeout) || tok.Error() != nil {
		return nil, nil, fmt.Errorf("observer connect: %v", tok.Error())
	}
	tok := cli.Subscribe(filter, 1, func(_ paho.Client, m paho.Message) { received <- m })
	if !tok.WaitTimeout(MosquittoReadyTimeout) || tok.Error() != nil {
		cli.Disconnect(100)
		return nil, nil, fmt.Errorf("subscribe %s: %v", filter, tok.Error())
	}
	return received, func() { cli.Disconnect(100) }, nil
}

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
connection_messages true
`

// Influx holds the coordinates of a disposable InfluxDB instance.
type Influx struct {
	URL    string
	Org    string
	Bucket string
	Token  string
}

// StartMosquitto launches a disposable Mosquitto broker and returns its
// tcp:// URL once it accepts MQTT connections.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "mosq")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(mosquittoConf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	addr, stop, err := startContainer(ctx, tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	})
	cleanup := func() {
		if stop != nil {
			stop()
		}
		_ = os.RemoveAll(dir)
	}
	if err != nil {
		cleanup()
		return "", nil, err
	}
	broker := "tcp://" + addr

	waitCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := waitForMQTTReady(waitCtx, broker); err != nil {
		cleanup()
		return "", nil, err
	}
	return broker, cleanup, nil
}

// StartInflux launches an InfluxDB 2 container initialised with a fresh
// organisation, bucket and admin token.
func StartInflux(ctx context.Context) (Influx, func(), error) {
	db := Influx{Org: "evstation", Bucket: "station", Token: "evstation-test-token"}
	addr, stop, err := startContainer(ctx, tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "evstation",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "evstation-password",
			"DOCKER_INFLUXDB_INIT_ORG":         db.Org,
			"DOCKER_INFLUXDB_INIT_BUCKET":      db.Bucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": db.Token,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(InfluxReadyTimeout),
	})
	if err != nil {
		return Influx{}, nil, err
	}
	db.URL = "http://" + addr
	return db, stop, nil
}

// startContainer runs req and returns the host:port of its single exposed
// port.
func startContainer(ctx context.Context, req tc.ContainerRequest) (string, func(), error) {
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", nil, fmt.Errorf("start %s: %w", req.Image, err)
	}
	stop := func() { _ = cont.Terminate(context.Background()) }
	addr, err := cont.Endpoint(ctx, "")
	if err != nil {
		stop()
		return "", nil, err
	}
	return addr, stop, nil
}

func waitForMQTTReady(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("evstation-observer")
	for {
		cli := paho.NewClient(opts)
		tok := cli.Connect()
		if tok.WaitTimeout(MosquittoReadyTimeout) && tok.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("broker %s not ready: %w", broker, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dacarson/solarcharge/pkg/app"
	"github.com/dacarson/solarcharge/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chargerID = 9310

// chargepointFake is a minimal in-memory ChargePoint cloud. The amperage
// limit reflects immediately so the convergence poll in SetAmperageLimit
// succeeds on its first check.
type chargepointFake struct {
	mu            sync.Mutex
	amperageLimit int
	sessionActive bool
	loginCalls    int
	setLimitAmps  []int
	startCalls    int
}

func (f *chargepointFake) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/driver/profile/account/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.loginCalls++
		f.mu.Unlock()
		fmt.Fprint(w, `{"user":{"userId":42},"sessionId":"tok-e2e-123"}`)
	})
	mux.HandleFunc("/v1/driver/profile/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user":{"userId":42}}`)
	})
	mux.HandleFunc("/mobileapi/v5", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.Contains(body, "get_pandas"):
			fmt.Fprintf(w, `{"get_pandas":{"device_ids":[%d]}}`, chargerID)
		case strings.Contains(body, "get_panda_status"):
			status := "NOT_CHARGING"
			if f.sessionActive {
				status = "CHARGING"
			}
			fmt.Fprintf(w, `{"get_panda_status":{"amperage_limit":%d,"possible_amperage_limits":[40,32,24,16,8],"plugged_in":true,"charging_status":%q}}`,
				f.amperageLimit, status)
		default:
			t.Errorf("unexpected mobileapi request: %s", body)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/mapcache/v2", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.Contains(body, "start_session"):
			f.startCalls++
			f.sessionActive = true
			fmt.Fprint(w, `{}`)
		case strings.Contains(body, "stop_session"):
			f.sessionActive = false
			fmt.Fprint(w, `{}`)
		case strings.Contains(body, "charging_status"):
			if !f.sessionActive {
				fmt.Fprint(w, `{"charging_status":null}`)
				return
			}
			fmt.Fprintf(w, `{"charging_status":{"session_id":777,"device_id":%d,"power_kw":0,"start_time":1700000000000}}`, chargerID)
		case strings.Contains(body, "user_status"):
			if !f.sessionActive {
				fmt.Fprint(w, `{"user_status":null}`)
				return
			}
			fmt.Fprint(w, `{"user_status":{"session_id":777,"state":"CHARGING"}}`)
		default:
			t.Errorf("unexpected mapcache request: %s", body)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc(fmt.Sprintf("/driver/charger/%d/config/v1/charge-amperage-limit", chargerID), func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		f.mu.Lock()
		defer f.mu.Unlock()
		var amps int
		_, err := fmt.Sscanf(body, `{"chargeAmperageLimit":%d}`, &amps)
		assert.NoError(t, err)
		f.amperageLimit = amps
		f.setLimitAmps = append(f.setLimitAmps, amps)
		fmt.Fprint(w, `{"status":"success"}`)
	})
	return mux
}

// influxFake answers the three telemetry queries with a steady 2kW solar
// surplus and collects everything written back.
type influxFake struct {
	mu      sync.Mutex
	writes  []string
	written chan struct{}
}

func (f *influxFake) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(q, "DERIVATIVE"):
			fmt.Fprint(w, `{"results":[{"series":[{"name":"sunpower_power","columns":["time","derivative"],"values":[[1700000000,0],[1700000060,0]]}]}]}`)
		case strings.Contains(q, `"pv_p"`):
			fmt.Fprint(w, `{"results":[{"series":[{"name":"sunpower_power","columns":["time","mean"],"values":[[1700000000,4.2]]}]}]}`)
		case strings.Contains(q, `"net_p"`):
			fmt.Fprint(w, `{"results":[{"series":[{"name":"sunpower_power","columns":["time","mean"],"values":[[1700000000,-2.0]]}]}]}`)
		default:
			t.Errorf("unexpected influx query: %s", q)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/write", func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		f.mu.Lock()
		f.writes = append(f.writes, body)
		f.mu.Unlock()
		select {
		case f.written <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func readBody(t *testing.T, r *http.Request) string {
	b, err := io.ReadAll(r.Body)
	assert.NoError(t, err)
	return strings.TrimSpace(string(b))
}

// TestFirstTickStartsCharging drives the whole daemon against fake clouds:
// a 2kW surplus should raise the amperage limit to 16A, start a session and
// report the tick to influx.
func TestFirstTickStartsCharging(t *testing.T) {
	logrus.SetLevel(logrus.DebugLevel)

	cloud := &chargepointFake{amperageLimit: 8}
	cloudServer := httptest.NewServer(cloud.handler(t))
	defer cloudServer.Close()

	influx := &influxFake{written: make(chan struct{}, 1)}
	influxServer := httptest.NewServer(influx.handler(t))
	defer influxServer.Close()

	tokenFile := filepath.Join(t.TempDir(), "token")
	cfg := &config.CliConfig{
		Username:        "driver@example.com",
		Password:        "hunter2",
		TokenFile:       tokenFile,
		APIURL:          cloudServer.URL,
		InfluxURL:       influxServer.URL,
		InfluxDB:        "pvs6",
		TickInterval:    60,
		ControlInterval: 5,
		SlopeWindow:     30,
		Voltage:         240,
	}

	app := app.New(cfg)
	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()

	err := app.Start(ctx)
	require.NoError(t, err)

	select {
	case <-influx.written:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for metrics write")
	}

	cancel()
	app.Wait()

	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	assert.Equal(t, 1, cloud.loginCalls)
	assert.Equal(t, []int{16}, cloud.setLimitAmps)
	assert.Equal(t, 1, cloud.startCalls)
	assert.True(t, cloud.sessionActive)

	token, err := os.ReadFile(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "tok-e2e-123", string(token))

	influx.mu.Lock()
	defer influx.mu.Unlock()
	require.NotEmpty(t, influx.writes)
	assert.Contains(t, influx.writes[0], "solar_charge_control")
	assert.Contains(t, influx.writes[0], "target_amperage=16i")
	assert.Contains(t, influx.writes[0], "current_amperage=16i")
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dacarson/solarcharge/pkg/chargepoint"
	"github.com/dacarson/solarcharge/pkg/config"
	"github.com/dacarson/solarcharge/pkg/control"
	"github.com/dacarson/solarcharge/pkg/metrics"
	"github.com/dacarson/solarcharge/pkg/session"
	"github.com/dacarson/solarcharge/pkg/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"
)

type App struct {
	wg     *sync.WaitGroup
	config *config.CliConfig
}

func New(config *config.CliConfig) *App {
	return &App{
		wg:     &sync.WaitGroup{},
		config: config,
	}
}

// Start connects the collaborators, adopts any session already running on
// the charger and launches the control loop. Errors here are configuration
// problems and fatal; once the loop runs, nothing network-related is.
func (a *App) Start(ctx context.Context) error {
	err := a.config.LoadToken()
	if err != nil {
		logrus.Warnf("could not load cached session token: %v", err)
	}

	client := chargepoint.New(chargepoint.Config{
		BaseURL:      a.config.APIURL,
		Username:     a.config.Username,
		Password:     a.config.Password,
		SessionToken: a.config.Token(),
		OnToken: func(token string) {
			a.config.SetToken(token)
			if err := a.config.PersistToken(); err != nil {
				logrus.Warnf("could not persist session token: %v", err)
			}
		},
	})

	logrus.Info("connecting to chargepoint")
	err = client.Login()
	if err != nil {
		return err
	}

	chargers, err := client.GetHomeChargers()
	if err != nil {
		return err
	}
	if len(chargers) == 0 {
		return fmt.Errorf("no home chargers found")
	}
	chargerID := chargers[0]
	logrus.Infof("found charger %d", chargerID)

	status, err := client.GetHomeChargerStatus(chargerID)
	if err != nil {
		return err
	}
	minWatts := (float64(status.MinAmperage()) - 0.5) * a.config.Voltage
	logrus.Infof("minimum amperage is %dA, requiring at least %.0fW of solar excess to start charging",
		status.MinAmperage(), minWatts)

	influxClient, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     a.config.InfluxURL,
		Username: a.config.InfluxUser,
		Password: a.config.InfluxPass,
	})
	if err != nil {
		return fmt.Errorf("connecting to influxdb: %w", err)
	}

	source := telemetry.New(influxClient, a.config.InfluxDB)
	sinks := metrics.MultiSink{metrics.NewInfluxSink(influxClient, a.config.InfluxDB)}
	if a.config.MQTTUrl != "" {
		opts := mqtt.NewClientOptions().AddBroker(a.config.MQTTUrl).SetClientID("solarcharge")
		mqttClient := mqtt.NewClient(opts)
		token := mqttClient.Connect()
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("connecting to mqtt broker: %w", token.Error())
		}
		sinks = append(sinks, metrics.NewMQTTSink(mqttClient, a.config.MQTTTopic))
	}

	tracker := session.NewTracker(&chargerSessions{client: client}, chargerID)
	tracker.Adopt()

	loop := control.New(control.Config{
		ChargerID:       chargerID,
		Voltage:         a.config.Voltage,
		TickInterval:    time.Duration(a.config.TickInterval) * time.Second,
		ControlInterval: time.Duration(a.config.ControlInterval) * time.Minute,
		SlopeWindow:     time.Duration(a.config.SlopeWindow) * time.Minute,
	}, client, source, tracker, sinks)

	logrus.Infof("using %dm control interval and %dm slope calculation window",
		a.config.ControlInterval, a.config.SlopeWindow)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		loop.Run(ctx)
	}()
	return nil
}

func (a *App) Wait() {
	a.wg.Wait()
}

// chargerSessions adapts the chargepoint client to the session tracker.
type chargerSessions struct {
	client *chargepoint.Client
}

func (c *chargerSessions) ActiveSession() (session.Handle, error) {
	status, err := c.client.GetUserChargingStatus()
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, nil
	}
	return c.client.GetChargingSession(status.SessionID), nil
}

func (c *chargerSessions) StartSession(chargerID int) (session.Handle, error) {
	handle, err := c.client.StartChargingSession(chargerID)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

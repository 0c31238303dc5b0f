package metrics

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"
)

// Sink receives one sample of control metrics per tick. Writes are best
// effort: failures are logged, never returned to the control loop.
type Sink interface {
	Write(measurement string, fields map[string]interface{})
}

type batchWriter interface {
	Write(bp influx.BatchPoints) error
}

type InfluxSink struct {
	client   batchWriter
	database string
}

func NewInfluxSink(client influx.Client, database string) *InfluxSink {
	return &InfluxSink{client: client, database: database}
}

func (s *InfluxSink) Write(measurement string, fields map[string]interface{}) {
	bp, err := influx.NewBatchPoints(influx.BatchPointsConfig{
		Database:  s.database,
		Precision: "s",
	})
	if err != nil {
		logrus.Warnf("failed to build control metrics batch: %v", err)
		return
	}
	pt, err := influx.NewPoint(measurement, nil, fields, time.Now())
	if err != nil {
		logrus.Warnf("failed to build control metrics point: %v", err)
		return
	}
	bp.AddPoint(pt)
	err = s.client.Write(bp)
	if err != nil {
		logrus.Warnf("failed to write control metrics to influxdb: %v", err)
	}
}

// MQTTSink publishes each sample as JSON under <baseTopic>/<measurement>.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

func NewMQTTSink(client mqtt.Client, baseTopic string) *MQTTSink {
	return &MQTTSink{client: client, topic: baseTopic}
}

func (s *MQTTSink) Write(measurement string, fields map[string]interface{}) {
	payload, err := json.Marshal(fields)
	if err != nil {
		logrus.Warnf("failed to encode control metrics: %v", err)
		return
	}
	token := s.client.Publish(s.topic+"/"+measurement, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		logrus.Warnf("failed to publish control metrics to mqtt: %v", token.Error())
	}
}

// MultiSink fans one sample out to every configured sink.
type MultiSink []Sink

func (m MultiSink) Write(measurement string, fields map[string]interface{}) {
	for _, sink := range m {
		sink.Write(measurement, fields)
	}
}

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	influx "github.com/influxdata/influxdb1-client/v2"
)

// ErrNoData means one of the underlying queries returned nothing. Partial
// information is treated as no information: the caller should skip the tick
// rather than decide on an incomplete picture.
var ErrNoData = errors.New("telemetry: no data in query window")

const (
	measurement     = "sunpower_power"
	productionField = "pv_p"
	gridField       = "net_p"
)

// SolarSample is one windowed view of the solar telemetry, in watts. The
// meter reports kilowatts; values are scaled on the way out.
type SolarSample struct {
	ProductionW float64
	GridDrawW   float64
	SlopeWPerS  float64
	Start       time.Time
	End         time.Time
}

type queryer interface {
	Query(q influx.Query) (*influx.Response, error)
}

type Source struct {
	client   queryer
	database string
}

func New(client influx.Client, database string) *Source {
	return &Source{client: client, database: database}
}

// Estimate computes mean production and grid draw over the control window
// and the production slope over the slope window.
func (s *Source) Estimate(now time.Time, controlWindow, slopeWindow time.Duration) (*SolarSample, error) {
	nowS := now.Unix()
	controlClause := fmt.Sprintf("time >= %ds and time <= %ds", now.Add(-controlWindow).Unix(), nowS)
	slopeClause := fmt.Sprintf("time >= %ds and time <= %ds", now.Add(-slopeWindow).Unix(), nowS)

	production, ok, err := s.scalar(fmt.Sprintf(
		`SELECT MEAN(%q) FROM %q WHERE %s`, productionField, measurement, controlClause))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoData
	}

	gridDraw, ok, err := s.scalar(fmt.Sprintf(
		`SELECT MEAN(%q) FROM %q WHERE %s`, gridField, measurement, controlClause))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoData
	}

	// Per-minute derivative of the kW production series, in kW/s. Buckets
	// without data come back as null and are discarded.
	slopes, err := s.series(fmt.Sprintf(
		`SELECT DERIVATIVE(MEAN(%q), 1s) FROM %q WHERE %s GROUP BY time(1m) fill(null)`,
		productionField, measurement, slopeClause))
	if err != nil {
		return nil, err
	}
	if len(slopes) == 0 {
		return nil, ErrNoData
	}

	var slopeSum float64
	for _, v := range slopes {
		slopeSum += v
	}

	return &SolarSample{
		ProductionW: production * 1000,
		GridDrawW:   gridDraw * 1000,
		SlopeWPerS:  slopeSum / float64(len(slopes)) * 1000, // kW/s -> W/s
		Start:       now.Add(-controlWindow),
		End:         now,
	}, nil
}

func (s *Source) query(cmd string) (*influx.Response, error) {
	resp, err := s.client.Query(influx.NewQuery(cmd, s.database, "s"))
	if err != nil {
		return nil, fmt.Errorf("telemetry query failed: %w", err)
	}
	if resp.Error() != nil {
		return nil, fmt.Errorf("telemetry query failed: %w", resp.Error())
	}
	return resp, nil
}

// scalar runs an aggregation query expected to yield a single value. The
// second return is false when the window held no data.
func (s *Source) scalar(cmd string) (float64, bool, error) {
	resp, err := s.query(cmd)
	if err != nil {
		return 0, false, err
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Series) == 0 {
		return 0, false, nil
	}
	row := resp.Results[0].Series[0]
	if len(row.Values) == 0 || len(row.Values[0]) < 2 {
		return 0, false, nil
	}
	v, err := number(row.Values[0][1])
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	return *v, true, nil
}

// series returns all non-null values of the second column.
func (s *Source) series(cmd string) ([]float64, error) {
	resp, err := s.query(cmd)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	var values []float64
	for _, row := range resp.Results[0].Series {
		for _, point := range row.Values {
			if len(point) < 2 {
				continue
			}
			v, err := number(point[1])
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			values = append(values, *v)
		}
	}
	return values, nil
}

func number(v interface{}) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("telemetry: unexpected value type %T", v)
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("telemetry: bad numeric value %q: %w", n, err)
	}
	return &f, nil
}

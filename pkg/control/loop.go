package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dacarson/solarcharge/pkg/alert"
	"github.com/dacarson/solarcharge/pkg/chargepoint"
	"github.com/dacarson/solarcharge/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// Measurement is the metrics series written once per tick.
const Measurement = "solar_charge_control"

// Below this production the solar signal is mostly sensor noise, so the
// charger runs at full rate instead of chasing it.
const lowProductionThresholdW = 500.0

const (
	alertTelemetryGap   = "telemetry-gap"
	alertManualOverride = "manual-override"
)

type Charger interface {
	GetHomeChargerStatus(chargerID int) (*chargepoint.HomeChargerStatus, error)
	SetAmperageLimit(chargerID, amps int) error
}

type TelemetrySource interface {
	Estimate(now time.Time, controlWindow, slopeWindow time.Duration) (*telemetry.SolarSample, error)
}

type Sessions interface {
	Active() bool
	Start() error
	Stop() error
	CurrentPowerW() float64
}

type MetricsSink interface {
	Write(measurement string, fields map[string]interface{})
}

// Decision records what one actuation cycle concluded. Used for logging and
// metrics only.
type Decision struct {
	TargetAmps    int
	ConfirmedAmps int
	Time          time.Time
}

type Config struct {
	ChargerID       int
	Voltage         float64
	TickInterval    time.Duration
	ControlInterval time.Duration
	SlopeWindow     time.Duration
}

// Loop is the periodic charging controller. Two cadences on purpose: every
// tick reads telemetry and emits metrics, but actuation is gated to once
// per control interval so noisy readings cannot re-command the charger
// rapid fire.
type Loop struct {
	cfg       Config
	charger   Charger
	telemetry TelemetrySource
	sessions  Sessions
	sink      MetricsSink
	alerts    *alert.Set

	lastControlChange time.Time
	lastSetAmperage   int // -1 until the loop has commanded something
}

func New(cfg Config, charger Charger, source TelemetrySource, sessions Sessions, sink MetricsSink) *Loop {
	return &Loop{
		cfg:             cfg,
		charger:         charger,
		telemetry:       source,
		sessions:        sessions,
		sink:            sink,
		alerts:          &alert.Set{},
		lastSetAmperage: -1,
	}
}

// Run ticks until ctx is done. A failed tick is logged and the loop backs
// off a full control interval before trying again; it never exits on a
// transient failure.
func (l *Loop) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			delay := l.cfg.TickInterval
			err := l.safeTick(time.Now())
			if err != nil {
				logrus.Errorf("error in control loop: %v", err)
				delay = l.cfg.ControlInterval
			}
			timer.Reset(delay)
		}
	}
}

func (l *Loop) safeTick(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tick: %v", r)
		}
	}()
	return l.Tick(now)
}

// Tick runs one read-decide-actuate-report cycle.
func (l *Loop) Tick(now time.Time) error {
	sample, err := l.telemetry.Estimate(now, l.cfg.ControlInterval, l.cfg.SlopeWindow)
	if errors.Is(err, telemetry.ErrNoData) {
		if l.alerts.Raise(alertTelemetryGap) {
			logrus.Warn("no solar data, skipping ticks until telemetry recovers")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading telemetry: %w", err)
	}
	if l.alerts.Clear(alertTelemetryGap) {
		logrus.Info("telemetry recovered")
	}

	status, err := l.charger.GetHomeChargerStatus(l.cfg.ChargerID)
	if err != nil {
		return fmt.Errorf("reading charger status: %w", err)
	}

	currentChargingW := l.sessions.CurrentPowerW()
	averageExcess := -(sample.GridDrawW - currentChargingW)
	predictedExcess := averageExcess + sample.SlopeWPerS*l.cfg.ControlInterval.Seconds()

	logrus.WithFields(logrus.Fields{
		"production_w":       sample.ProductionW,
		"grid_draw_w":        sample.GridDrawW,
		"charging_w":         currentChargingW,
		"average_excess_w":   averageExcess,
		"slope_w_per_s":      sample.SlopeWPerS,
		"predicted_excess_w": predictedExcess,
	}).Info("tick")

	minAmps := status.MinAmperage()
	maxAmps := status.MaxAmperage()
	minWattsRequired := (float64(minAmps) - 0.5) * l.cfg.Voltage

	var targetAmps int
	switch {
	case sample.ProductionW < lowProductionThresholdW:
		targetAmps = maxAmps
		logrus.Infof("low production (%.1fW), charging at full rate %dA", sample.ProductionW, targetAmps)
	case predictedExcess >= minWattsRequired:
		targetAmps = DetermineTargetAmperage(predictedExcess, status.PossibleAmperageLimits, l.cfg.Voltage)
		logrus.Infof("predicted excess solar %.1fW, setting amperage to %dA", predictedExcess, targetAmps)
	default:
		targetAmps = 0
		logrus.Infof("insufficient predicted excess solar (%.1fW < %.1fW), stopping charging", predictedExcess, minWattsRequired)
	}

	if now.Sub(l.lastControlChange) >= l.cfg.ControlInterval {
		if l.manualOverride(status) {
			if l.alerts.Raise(alertManualOverride) {
				logrus.Infof("charger appears manually set to %dA, leaving it alone", maxAmps)
			}
		} else {
			l.alerts.Clear(alertManualOverride)
			decision, err := l.applyChargingDecision(status, targetAmps, minAmps)
			var commErr *chargepoint.CommunicationError
			switch {
			case errors.As(err, &commErr):
				logrus.Errorf("failed to apply charging decision: %v", err)
			case err != nil:
				return fmt.Errorf("applying charging decision: %w", err)
			default:
				l.lastSetAmperage = decision.ConfirmedAmps
				l.lastControlChange = decision.Time
			}
		}
	}

	status, err = l.charger.GetHomeChargerStatus(l.cfg.ChargerID)
	if err != nil {
		return fmt.Errorf("re-reading charger status: %w", err)
	}

	l.sink.Write(Measurement, map[string]interface{}{
		"solar_slope_w_per_s":  sample.SlopeWPerS,
		"excess_solar_watts":   predictedExcess,
		"charging_power_watts": currentChargingW,
		"target_amperage":      targetAmps,
		"current_amperage":     status.AmperageLimit,
	})
	return nil
}

// manualOverride guesses whether an operator cranked the charger to its
// maximum step outside this loop. Best effort: a CHARGING status at max
// amperage that the loop did not command itself also matches when the
// operator had unrelated reasons, so we only ever skip one control cycle
// at a time.
func (l *Loop) manualOverride(status *chargepoint.HomeChargerStatus) bool {
	return status.ChargingStatus == chargepoint.StateCharging &&
		status.AmperageLimit == status.MaxAmperage() &&
		l.lastSetAmperage != status.MaxAmperage()
}

// applyChargingDecision drives the charger towards targetAmps. An amperage
// change must not straddle a live session, so the session is stopped first
// and restarted after the new limit is commanded.
func (l *Loop) applyChargingDecision(status *chargepoint.HomeChargerStatus, targetAmps, minAmps int) (Decision, error) {
	decision := Decision{TargetAmps: targetAmps, Time: time.Now()}

	if targetAmps == 0 {
		if l.sessions.Active() {
			err := l.sessions.Stop()
			if err != nil {
				return decision, err
			}
		} else if status.AmperageLimit != minAmps {
			// Pre-position the limit at the floor so a manually started
			// charge draws as little grid power as possible.
			err := l.charger.SetAmperageLimit(l.cfg.ChargerID, minAmps)
			if err != nil {
				return decision, err
			}
			logrus.Infof("amperage floored at %dA while idle", minAmps)
		}
		return decision, nil
	}

	if status.AmperageLimit != targetAmps {
		logrus.Infof("changing amperage from %dA to %dA", status.AmperageLimit, targetAmps)

		wasCharging := l.sessions.Active()
		if wasCharging {
			err := l.sessions.Stop()
			if err != nil {
				return decision, err
			}
		}

		err := l.charger.SetAmperageLimit(l.cfg.ChargerID, targetAmps)
		if err != nil {
			return decision, err
		}

		updated, err := l.charger.GetHomeChargerStatus(l.cfg.ChargerID)
		if err != nil {
			return decision, err
		}
		if updated.AmperageLimit != targetAmps {
			logrus.Warnf("amperage mismatch: set %dA but charger reports %dA", targetAmps, updated.AmperageLimit)
		}

		if wasCharging {
			err = l.sessions.Start()
			if err != nil {
				return decision, err
			}
		}
	}

	if !l.sessions.Active() && status.PluggedIn {
		err := l.sessions.Start()
		if err != nil {
			return decision, err
		}
	}

	decision.ConfirmedAmps = targetAmps
	return decision, nil
}

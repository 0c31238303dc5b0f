package session

import (
	"github.com/sirupsen/logrus"
)

// Handle is the remote charging session as seen by the tracker. It is
// satisfied by chargepoint.ChargingSession.
type Handle interface {
	ID() string
	PowerKW() float64
	Refresh() error
	Stop() error
}

// API is the slice of the charger cloud the tracker needs.
type API interface {
	// ActiveSession returns a handle to the session currently running on
	// the account, or nil when there is none.
	ActiveSession() (Handle, error)
	StartSession(chargerID int) (Handle, error)
}

// Tracker owns the single charging-session handle for one charger. The
// control loop is single threaded, so no locking: correctness rests on
// clearing the handle whenever a refresh or stop tells us it is gone.
type Tracker struct {
	api       API
	chargerID int
	handle    Handle
}

func NewTracker(api API, chargerID int) *Tracker {
	return &Tracker{api: api, chargerID: chargerID}
}

// Adopt attaches to a session that was already running when the process
// started, so a restart does not orphan or restart an in-progress charge.
// Failures are logged and ignored; the loop starts from a clean slate.
func (t *Tracker) Adopt() {
	handle, err := t.api.ActiveSession()
	if err != nil {
		logrus.Warnf("failed to check for existing charging session: %v", err)
		return
	}
	if handle == nil {
		logrus.Info("no active charging session found")
		return
	}
	t.handle = handle
	logrus.Infof("adopted existing charging session %s", handle.ID())
}

func (t *Tracker) Active() bool {
	return t.handle != nil
}

func (t *Tracker) Start() error {
	if t.handle != nil {
		return nil
	}
	handle, err := t.api.StartSession(t.chargerID)
	if err != nil {
		return err
	}
	t.handle = handle
	logrus.Infof("started charging session %s", handle.ID())
	return nil
}

func (t *Tracker) Stop() error {
	if t.handle == nil {
		return nil
	}
	err := t.handle.Stop()
	if err != nil {
		return err
	}
	logrus.Infof("stopped charging session %s", t.handle.ID())
	t.handle = nil
	return nil
}

// CurrentPowerW reports the live charging draw in watts. A failed refresh
// invalidates the session rather than erroring: the handle is dropped and
// the next tick re-evaluates from scratch.
func (t *Tracker) CurrentPowerW() float64 {
	if t.handle == nil {
		return 0
	}
	err := t.handle.Refresh()
	if err != nil {
		logrus.Warnf("failed to refresh charging session %s, dropping it: %v", t.handle.ID(), err)
		t.handle = nil
		return 0
	}
	return t.handle.PowerKW() * 1000
}

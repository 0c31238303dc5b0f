package chargepoint

import (
	"errors"
	"fmt"
)

// ErrSessionInvalid is returned by ChargingSession.Refresh when the remote
// end no longer knows the session. The caller is expected to drop its handle.
var ErrSessionInvalid = errors.New("charging session is no longer valid")

// CommunicationError wraps any failed exchange with the ChargePoint cloud.
// The control loop treats it as transient: skip the actuation, retry at the
// next control interval.
type CommunicationError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *CommunicationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chargepoint: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chargepoint: %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

package chargepoint

import (
	"fmt"
	"sort"
)

type ChargingState string

const (
	StateCharging ChargingState = "CHARGING"
	StateIdle     ChargingState = "IDLE"
)

// HomeChargerStatus is the validated view of one panda status response.
// The amperage ladder is always sorted ascending.
type HomeChargerStatus struct {
	ChargerID              int
	AmperageLimit          int
	PossibleAmperageLimits []int
	PluggedIn              bool
	ChargingStatus         ChargingState
}

func (s *HomeChargerStatus) MinAmperage() int {
	return s.PossibleAmperageLimits[0]
}

func (s *HomeChargerStatus) MaxAmperage() int {
	return s.PossibleAmperageLimits[len(s.PossibleAmperageLimits)-1]
}

type pandaStatus struct {
	AmperageLimit          int    `json:"amperage_limit"`
	PossibleAmperageLimits []int  `json:"possible_amperage_limits"`
	PluggedIn              bool   `json:"plugged_in"`
	ChargingStatus         string `json:"charging_status"`
}

func (p *pandaStatus) validate(chargerID int) (*HomeChargerStatus, error) {
	if len(p.PossibleAmperageLimits) == 0 {
		return nil, fmt.Errorf("charger %d reports no possible amperage limits", chargerID)
	}
	limits := make([]int, len(p.PossibleAmperageLimits))
	copy(limits, p.PossibleAmperageLimits)
	sort.Ints(limits)
	return &HomeChargerStatus{
		ChargerID:              chargerID,
		AmperageLimit:          p.AmperageLimit,
		PossibleAmperageLimits: limits,
		PluggedIn:              p.PluggedIn,
		ChargingStatus:         ChargingState(p.ChargingStatus),
	}, nil
}

// UserChargingStatus reports the account-wide charging state. A nil value
// from GetUserChargingStatus means no session is in progress.
type UserChargingStatus struct {
	SessionID int64  `json:"session_id"`
	State     string `json:"state"`
}

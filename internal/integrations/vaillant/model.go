package vaillant

import "time"

// Operating modes reported for zones, rooms, and hot water.
const (
	OperatingModeOff    = "off"
	OperatingModeManual = "manual"
	OperatingModeAuto   = "auto"
)

// System-wide quick modes. At most one is active at a time.
const (
	QuickModeParty      = "party"
	QuickModeOneDayAway = "one_day_away"
	QuickModeSystemOff  = "system_off"
)

// frostProtectionTemperature is the setpoint applied while the system
// is switched off.
const frostProtectionTemperature = 5.0

// System is one installation's full state snapshot.
type System struct {
	Serial             string       `json:"serialNumber"`
	OutdoorTemperature *float64     `json:"outdoorTemperature,omitempty"`
	Zones              []Zone       `json:"zones"`
	Rooms              []Room       `json:"rooms"`
	HotWater           *HotWater    `json:"hotWater,omitempty"`
	Circulation        *Circulation `json:"circulation,omitempty"`
	Holiday            *HolidayMode `json:"holidayMode,omitempty"`
	QuickMode          string       `json:"quickMode,omitempty"`
}

// Zone is a heating circuit.
type Zone struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	CurrentTemperature float64    `json:"currentTemperature"`
	TargetTemperature  float64    `json:"targetTemperature"`
	OperatingMode      string     `json:"operatingMode"`
	QuickVeto          *QuickVeto `json:"quickVeto,omitempty"`
}

// Room is an ambisense room with its own thermostat valves.
type Room struct {
	ID                 int        `json:"roomIndex"`
	Name               string     `json:"name"`
	CurrentTemperature float64    `json:"currentTemperature"`
	TargetTemperature  float64    `json:"targetTemperature"`
	OperatingMode      string     `json:"operationMode"`
	QuickVeto          *QuickVeto `json:"quickVeto,omitempty"`
}

// HotWater is the domestic hot water circuit.
type HotWater struct {
	CurrentTemperature float64 `json:"currentTemperature"`
	TargetTemperature  float64 `json:"targetTemperature"`
	OperatingMode      string  `json:"operationMode"`
	BoostActive        bool    `json:"boostActive"`
}

// Circulation is the hot water circulation pump.
type Circulation struct {
	OperatingMode string `json:"operationMode"`
}

// QuickVeto is a temporary setpoint override on a zone or room.
type QuickVeto struct {
	TargetTemperature float64 `json:"targetTemperature"`
	RemainingMinutes  int     `json:"remainingMinutes,omitempty"`
}

// HolidayMode is a scheduled away window with a reduced setpoint.
type HolidayMode struct {
	Start             time.Time `json:"startDate"`
	End               time.Time `json:"endDate"`
	TargetTemperature float64   `json:"targetTemperature"`
}

// ActiveAt reports whether the holiday window covers the given time.
func (h *HolidayMode) ActiveAt(t time.Time) bool {
	if h == nil {
		return false
	}
	return !t.Before(h.Start) && t.Before(h.End)
}

// HolidayActive reports whether holiday mode is in force now.
func (s *System) HolidayActive(now time.Time) bool {
	return s.Holiday.ActiveAt(now)
}

// EffectivePreset resolves the preset shown on a zone or room entity.
// Priority: holiday > quick mode > quick veto > none.
func (s *System) EffectivePreset(veto *QuickVeto, now time.Time) string {
	switch {
	case s.HolidayActive(now):
		return "holiday"
	case s.QuickMode != "":
		return s.QuickMode
	case veto != nil:
		return "quick_veto"
	default:
		return "none"
	}
}

// EffectiveTarget resolves the target temperature a zone or room is
// actually heating towards, applying the same override priority.
func (s *System) EffectiveTarget(scheduled float64, veto *QuickVeto, now time.Time) float64 {
	switch {
	case s.HolidayActive(now):
		return s.Holiday.TargetTemperature
	case s.QuickMode == QuickModeSystemOff:
		return frostProtectionTemperature
	case veto != nil:
		return veto.TargetTemperature
	default:
		return scheduled
	}
}

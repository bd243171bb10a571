package vaillant

import (
	"testing"
	"time"
)

func holidayWindow(now time.Time) *HolidayMode {
	return &HolidayMode{
		Start:             now.Add(-24 * time.Hour),
		End:               now.Add(24 * time.Hour),
		TargetTemperature: 12,
	}
}

func TestEffectivePresetPriority(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	veto := &QuickVeto{TargetTemperature: 22}

	tests := []struct {
		name string
		sys  System
		veto *QuickVeto
		want string
	}{
		{"holiday beats quick mode and veto",
			System{Holiday: holidayWindow(now), QuickMode: QuickModeParty}, veto, "holiday"},
		{"quick mode beats veto",
			System{QuickMode: QuickModeParty}, veto, "party"},
		{"veto alone",
			System{}, veto, "quick_veto"},
		{"nothing active",
			System{}, nil, "none"},
		{"expired holiday ignored",
			System{Holiday: &HolidayMode{
				Start: now.Add(-48 * time.Hour),
				End:   now.Add(-24 * time.Hour),
			}}, nil, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sys.EffectivePreset(tt.veto, now); got != tt.want {
				t.Errorf("EffectivePreset() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEffectiveTargetPriority(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	veto := &QuickVeto{TargetTemperature: 23.5}

	tests := []struct {
		name string
		sys  System
		veto *QuickVeto
		want float64
	}{
		{"holiday setpoint wins",
			System{Holiday: holidayWindow(now)}, veto, 12},
		{"system off falls to frost protection",
			System{QuickMode: QuickModeSystemOff}, veto, 5},
		{"party keeps scheduled setpoint",
			System{QuickMode: QuickModeParty}, nil, 20},
		{"veto target",
			System{}, veto, 23.5},
		{"schedule",
			System{}, nil, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sys.EffectiveTarget(20, tt.veto, now); got != tt.want {
				t.Errorf("EffectiveTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHolidayActiveAt(t *testing.T) {
	start := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	h := &HolidayMode{Start: start, End: start.Add(48 * time.Hour)}

	if h.ActiveAt(start.Add(-time.Minute)) {
		t.Error("active before start")
	}
	if !h.ActiveAt(start) {
		t.Error("inactive at start")
	}
	if h.ActiveAt(start.Add(48 * time.Hour)) {
		t.Error("active at end")
	}

	var nilHoliday *HolidayMode
	if nilHoliday.ActiveAt(start) {
		t.Error("nil holiday reported active")
	}
}

package models

import (
	"math"
	"strconv"

	"github.com/nerrad567/clip-bridge/internal/bridges/clip"
)

// RAC_056905_WW register tags.
const (
	racCurrentTemperature uint16 = 0x1fd
	racPower              uint16 = 0x1f7
	racMode               uint16 = 0x1f9
	racFanMode            uint16 = 0x1fa
	racTemperature        uint16 = 0x1fe
	racVerticalSwingMode  uint16 = 0x321
	racSwingMode          uint16 = 0x322
)

var (
	racModes = clip.ValueMap{
		0: "cool",
		1: "dry",
		2: "fan_only",
		4: "heat",
		6: "auto",
	}

	racFanModes = clip.ValueMap{
		2: "very low",
		3: "low",
		4: "medium",
		5: "high",
		6: "very high",
		8: "auto",
	}

	racVerticalSwingModes = clip.ValueMap{
		0:   "off",
		1:   "1",
		2:   "2",
		3:   "3",
		4:   "4",
		5:   "5",
		6:   "6",
		100: "on",
	}

	racSwingModes = clip.ValueMap{
		0:   "off",
		1:   "1",
		2:   "2",
		3:   "3",
		4:   "4",
		5:   "5",
		13:  "1-3",
		35:  "3-5",
		100: "on",
	}
)

// RAC056905WW is the LG room air conditioner.
var RAC056905WW = &clip.Model{
	ID:              "RAC_056905_WW",
	Class:           "climate",
	Manufacturer:    "LG",
	SoftwareVersion: "885612",
	Fields: []clip.Field{
		{
			Tag:       racCurrentTemperature,
			Name:      "current_temperature",
			Readable:  true,
			ReadXform: clip.Halves,
		},
		{
			// Power is never published on its own. A power report is
			// re-dispatched as a mode report so that "off" shows up as a mode.
			Tag:          racPower,
			Name:         "power",
			Writable:     true,
			ReadXform:    racPowerRead,
			ReadRedirect: clip.RedirectTo(racMode),
			WriteXform:   racPowerWrite,
			WriteAttach: func(raw uint32) []uint16 {
				if raw == 0 {
					return nil
				}
				return []uint16{racMode, racFanMode}
			},
		},
		{
			Tag:         racMode,
			Name:        "mode",
			Readable:    true,
			Writable:    true,
			ReadXform:   racModeRead,
			PreWrite:    racModePreWrite,
			WriteXform:  racModes.Write,
			WriteAttach: clip.Attach(racFanMode, racTemperature),
		},
		{
			Tag:         racFanMode,
			Name:        "fan_mode",
			Readable:    true,
			Writable:    true,
			ReadXform:   racFanModes.Read,
			WriteXform:  racFanModes.Write,
			WriteAttach: clip.Attach(racMode, racTemperature),
		},
		{
			Tag:         racTemperature,
			Name:        "temperature",
			Readable:    true,
			Writable:    true,
			ReadXform:   clip.Halves,
			WriteXform:  racTemperatureWrite,
			WriteAttach: clip.Attach(racMode, racFanMode),
		},
		{
			Tag:         racVerticalSwingMode,
			Name:        "vertical_swing_mode",
			Readable:    true,
			Writable:    true,
			ReadXform:   racVerticalSwingModes.Read,
			WriteXform:  racVerticalSwingModes.Write,
			WriteAttach: clip.Attach(racMode, racFanMode),
		},
		{
			Tag:         racSwingMode,
			Name:        "swing_mode",
			Readable:    true,
			Writable:    true,
			ReadXform:   racSwingModes.Read,
			WriteXform:  racSwingModes.Write,
			WriteAttach: clip.Attach(racMode, racFanMode),
		},
	},
	Discovery: racDiscovery,
}

func racPowerRead(raw uint32, _ clip.StateReader) (string, bool) {
	if raw == 0 {
		return "OFF", true
	}
	return "ON", true
}

func racPowerWrite(value string) (uint32, bool) {
	if value == "ON" {
		return 1, true
	}
	return 0, true
}

// racModeRead reports "off" whenever the cached power register is 0, so a
// power report redirected here reads as the climate entity's off mode.
func racModeRead(raw uint32, state clip.StateReader) (string, bool) {
	if power, ok := state.Get(racPower); ok && power == 0 {
		return "off", true
	}
	return racModes.Read(raw, state)
}

func racModePreWrite(value string) (string, string, bool) {
	if value == "off" {
		return "power", "OFF", true
	}
	return "", "", false
}

// racTemperatureWrite converts a set point in °C to half-degree units.
func racTemperatureWrite(value string) (uint32, bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f*2 > clip.MaxValue {
		return 0, false
	}
	return uint32(math.Round(f * 2)), true //nolint:mnd // half units
}

func racDiscovery(t clip.DeviceTopics) map[string]any {
	return map[string]any{
		"name":                      "LG Air Conditioner",
		"temperature_unit":          "C",
		"temp_step":                 0.5,
		"precision":                 0.5,
		"fan_modes":                 []string{"auto", "very low", "low", "medium", "high", "very high"},
		"swing_modes":               []string{"1", "2", "3", "4", "5", "1-3", "3-5", "on", "off"},
		"vertical_swing_modes":      []string{"1", "2", "3", "4", "5", "6", "on", "off"},
		"current_temperature_topic": t.State("current_temperature"),
		"power_command_topic":       t.Command("power"),
		"mode_state_topic":          t.State("mode"),
		"mode_command_topic":        t.Command("mode"),
		"fan_mode_state_topic":      t.State("fan_mode"),
		"fan_mode_command_topic":    t.Command("fan_mode"),
		"temperature_state_topic":   t.State("temperature"),
		"temperature_command_topic": t.Command("temperature"),
		"swing_mode_state_topic":    t.State("swing_mode"),
		"swing_mode_command_topic":  t.Command("swing_mode"),
	}
}

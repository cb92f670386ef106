package spot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHomeCallsign(t *testing.T) {
	testCases := []struct {
		callsign string
		want     string
	}{
		{"G0ABC/P", "G0ABC"},
		{"HB9XYZ", "HB9XYZ"},
		{"DL/HB9XYZ/P", "HB9XYZ"},
		{"F/ON4ABC/M", "ON4ABC"},
		// UK regional prefixes normalize to their 2E/G/M roots
		{"GM4ABC", "G4ABC"},
		{"GW0XYZ/P", "G0XYZ"},
		{"GI0ABC", "G0ABC"},
		{"2E0XYZ", "2E0XYZ"},
		{"2M0XYZ", "2E0XYZ"},
		{"2W0XYZ/P", "2E0XYZ"},
		{"MM0XYZ", "M0XYZ"},
		{"MW1ABC", "M1ABC"},
		// Not a UK pattern: left untouched
		{"GM4ABCDE", "GM4ABCDE"},
		{"K6EL", "K6EL"},
	}

	for _, tc := range testCases {
		t.Run(tc.callsign, func(t *testing.T) {
			assert.Equal(t, tc.want, HomeCallsign(tc.callsign))
		})
	}
}

func TestCallsignVariations(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{"2D0XYZ", "2E0XYZ", "2I0XYZ", "2J0XYZ", "2M0XYZ", "2U0XYZ", "2W0XYZ"},
		CallsignVariations("2E0XYZ"))

	assert.ElementsMatch(t,
		[]string{"GD4ABC", "G4ABC", "GI4ABC", "GJ4ABC", "GM4ABC", "GU4ABC", "GW4ABC"},
		CallsignVariations("G4ABC"))

	assert.ElementsMatch(t,
		[]string{"MD0XYZ", "M0XYZ", "MI0XYZ", "MJ0XYZ", "MM0XYZ", "MU0XYZ", "MW0XYZ"},
		CallsignVariations("M0XYZ"))

	// Non-UK callsigns have a single variant
	assert.Equal(t, []string{"HB9XYZ"}, CallsignVariations("HB9XYZ"))
}

package mail

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlexTimeLayouts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{
			"rfc3339 nano",
			`"2026-08-24T10:30:00.123456789Z"`,
			time.Date(2026, 8, 24, 10, 30, 0, 123456789, time.UTC),
		},
		{
			"rfc3339 with zone",
			`"2026-08-24T12:30:00+02:00"`,
			time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		},
		{
			"bare with fraction assumes utc",
			`"2026-08-24T10:30:00.5"`,
			time.Date(2026, 8, 24, 10, 30, 0, 500000000, time.UTC),
		},
		{
			"bare seconds assumes utc",
			`"2026-08-24T10:30:00"`,
			time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		},
		{
			"empty is zero",
			`""`,
			time.Time{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexTime
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			require.True(t, f.Time.Equal(tt.want), "got %v, want %v", f.Time, tt.want)
		})
	}

	var f FlexTime
	require.Error(t, json.Unmarshal([]byte(`"24/08/2026"`), &f))
}

func TestFlexTimeMarshal(t *testing.T) {
	f := FlexTime{Time: time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)}
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.JSONEq(t, `"2026-08-24T10:30:00Z"`, string(data))
}

func TestReservationConflictHolderShapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			"name list",
			`{"path": "src/a.ts", "holders": ["AmberPeak", "CoralBay"]}`,
			[]string{"AmberPeak", "CoralBay"},
		},
		{
			"object list with agent",
			`{"path": "src/a.ts", "holders": [{"agent": "AmberPeak"}]}`,
			[]string{"AmberPeak"},
		},
		{
			"object list with agent_name",
			`{"path": "src/a.ts", "holders": [{"agent_name": "CoralBay"}]}`,
			[]string{"CoralBay"},
		},
		{
			"null holders",
			`{"path": "src/a.ts", "holders": null}`,
			[]string{},
		},
		{
			"absent holders",
			`{"path": "src/a.ts"}`,
			[]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c ReservationConflict
			require.NoError(t, json.Unmarshal([]byte(tt.in), &c))
			require.Equal(t, "src/a.ts", c.Path)
			require.Equal(t, tt.want, c.Holders)
		})
	}

	var c ReservationConflict
	require.Error(t, json.Unmarshal([]byte(`{"path": "x", "holders": 42}`), &c))
}

func TestFileReservationRemaining(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	r := FileReservation{ExpiresTS: FlexTime{Time: now.Add(30 * time.Minute)}}
	require.Equal(t, 30*time.Minute, r.Remaining(now))
	require.Negative(t, r.Remaining(now.Add(time.Hour)))
}

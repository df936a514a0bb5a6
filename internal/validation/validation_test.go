package validation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentityNumber(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"111.444.777-35", true},
		{"11144477735", true},
		{"529.982.247-25", true},
		{"111.111.111-11", false},
		{"00000000000", false},
		{"111.444.777-36", false},
		{"111.444.777-45", false},
		{"1114447773", false},
		{"111444777350", false},
		{"", false},
		{"abc.def.ghi-jk", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateIdentityNumber(tt.in))
		})
	}
}

func TestValidateIdentityNumberRejectsRepeatedDigits(t *testing.T) {
	for d := 0; d <= 9; d++ {
		digits := strings.Repeat(fmt.Sprint(d), 11)
		assert.False(t, ValidateIdentityNumber(digits), digits)
	}
}

func TestValidateIdentityNumberRejectsAnyCheckDigitDeviation(t *testing.T) {
	base := "111444777"
	for tenth := 0; tenth <= 9; tenth++ {
		for eleventh := 0; eleventh <= 9; eleventh++ {
			candidate := fmt.Sprintf("%s%d%d", base, tenth, eleventh)
			want := tenth == 3 && eleventh == 5
			assert.Equal(t, want, ValidateIdentityNumber(candidate), candidate)
		}
	}
}

func TestValidateBusinessHours(t *testing.T) {
	loc := time.UTC
	at := func(date string, hour, minute int) time.Time {
		d, err := time.ParseInLocation(ISODate, date, loc)
		require.NoError(t, err)
		return d.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
	}

	tests := []struct {
		name    string
		when    time.Time
		valid   bool
		message string
	}{
		{"saturday 11:30", at("2024-06-15", 11, 30), true, ""},
		{"saturday 12:00", at("2024-06-15", 12, 0), false, MsgSaturdayHours},
		{"saturday 07:30", at("2024-06-15", 7, 30), false, MsgSaturdayHours},
		{"monday 08:00", at("2024-06-17", 8, 0), true, ""},
		{"monday 17:30", at("2024-06-17", 17, 30), true, ""},
		{"monday 18:00", at("2024-06-17", 18, 0), false, MsgWeekdayHours},
		{"monday 08:15", at("2024-06-17", 8, 15), false, MsgSlotGranularity},
		{"sunday 10:00", at("2024-06-16", 10, 0), false, MsgClosedSunday},
		{"sunday 10:15 reports granularity", at("2024-06-16", 10, 15), false, MsgSlotGranularity},
		{"friday 07:00", at("2024-06-21", 7, 0), false, MsgWeekdayHours},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateBusinessHours(tt.when)
			assert.Equal(t, tt.valid, got.Valid)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestValidateDateNotPast(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, loc)

	assert.True(t, ValidateDateNotPast(time.Date(2025, 3, 10, 0, 0, 0, 0, loc), now).Valid, "today is allowed")
	assert.True(t, ValidateDateNotPast(time.Date(2025, 3, 11, 0, 0, 0, 0, loc), now).Valid)

	past := ValidateDateNotPast(time.Date(2025, 3, 9, 0, 0, 0, 0, loc), now)
	assert.False(t, past.Valid)
	assert.Equal(t, MsgDateInPast, past.Message)
}

func TestValidateStartNotPast(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	assert.False(t, ValidateStartNotPast(now.Add(-time.Hour), now).Valid)
	assert.True(t, ValidateStartNotPast(now.Add(30*time.Minute), now).Valid)
}

func TestParseDate(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 6, 20, 9, 0, 0, 0, loc)

	tests := []struct {
		in   string
		want string
	}{
		{"2025-03-15", "2025-03-15"},
		{"15/03/2025", "2025-03-15"},
		{"15/03/25", "2025-03-15"},
		{"5-7-2025", "2025-07-05"},
		{"25/12", "2025-12-25"},
		{"10/01", "2026-01-10"},
		{"20/06", "2025-06-20"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, now, loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format(ISODate))
		})
	}

	for _, bad := range []string{"", "31/02/2025", "amanhã", "2025/13/01"} {
		_, err := ParseDate(bad, now, loc)
		assert.ErrorIs(t, err, ErrBadDate, bad)
	}
}

func TestParseTime(t *testing.T) {
	tests := map[string]string{
		"14:30": "14:30",
		"9:00":  "09:00",
		"14h":   "14:00",
		"14h30": "14:30",
		"8":     "08:00",
	}
	for in, want := range tests {
		got, err := ParseTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"25:00", "12:75", "meio-dia", ""} {
		_, err := ParseTime(bad)
		assert.ErrorIs(t, err, ErrBadTime, bad)
	}
}

func TestCombineDateTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	got, err := CombineDateTime("2025-03-15", "14:30", loc)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())
	assert.Equal(t, 30, got.Minute())
	assert.Equal(t, loc, got.Location())

	_, err = CombineDateTime("15/03/2025", "14:30", loc)
	assert.Error(t, err)
}

func TestFormatAndMaskIdentityNumber(t *testing.T) {
	assert.Equal(t, "111.444.777-35", FormatIdentityNumber("11144477735"))
	assert.Equal(t, "123", FormatIdentityNumber("123"))
	assert.Equal(t, "***.***.***-35", MaskIdentityNumber("111.444.777-35"))
}

func TestFormatSlot(t *testing.T) {
	at := time.Date(2024, 6, 15, 11, 30, 0, 0, time.UTC)
	assert.Equal(t, "sábado, 15/06/2024 às 11:30", FormatSlot(at))
	assert.Equal(t, "segunda-feira", WeekdayName(time.Monday))
}

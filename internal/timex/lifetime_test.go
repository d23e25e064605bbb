package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLifetime(t *testing.T) {
	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{"30s", 30 * time.Second, true},
		{"15m", 15 * time.Minute, true},
		{"12h", 12 * time.Hour, true},
		{"7d", 7 * 24 * time.Hour, true},
		{"0m", 0, true},
		{"", DefaultLifetime, false},
		{"15", DefaultLifetime, false},
		{"m15", DefaultLifetime, false},
		{"1w", DefaultLifetime, false},
		{"1.5h", DefaultLifetime, false},
		{"-5m", DefaultLifetime, false},
		{" 5m", DefaultLifetime, false},
		{"99999999999999999999d", DefaultLifetime, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLifetime(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestLifetimeSeconds(t *testing.T) {
	assert.Equal(t, int64(900), LifetimeSeconds("15m"))
	assert.Equal(t, int64(604800), LifetimeSeconds("7d"))
	assert.Equal(t, int64(900), LifetimeSeconds("garbage"))
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"5m","b":1000}`), &v))
	assert.Equal(t, 5*time.Minute, v.A.Duration)
	assert.Equal(t, time.Duration(1000), v.B.Duration)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"five"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Duration{Duration: 90 * time.Second})
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))
}

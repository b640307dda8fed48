package event

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "page_view", true},
		{"digits after letter", "step2_done", true},
		{"single letter", "a", true},
		{"exactly 40", strings.Repeat("a", 40), true},
		{"41 chars", strings.Repeat("a", 41), false},
		{"empty", "", false},
		{"leading digit", "123bad", false},
		{"leading underscore", "_private", false},
		{"hyphen", "page-view", false},
		{"space", "page view", false},
		{"unicode", "pagé", false},
		{"reserved google", "google_signal", false},
		{"reserved ga", "GA_session", false},
		{"reserved firebase", "firebase_event", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidName(tt.input))
		})
	}
}

func TestIsValidParamNameAllowsReservedPrefixes(t *testing.T) {
	assert.True(t, IsValidParamName("ga_custom"))
	assert.False(t, IsValidParamName("9lives"))
}

type stringer struct{}

func (stringer) String() string { return "stringer" }

func TestSanitizeValue(t *testing.T) {
	long := strings.Repeat("x", 150)

	tests := []struct {
		name     string
		input    any
		want     any
		wantKeep bool
	}{
		{"short string", "hello", "hello", true},
		{"long string truncated", long, strings.Repeat("x", 100), true},
		{"int", 42, 42, true},
		{"int64", int64(7), int64(7), true},
		{"float", 1.5, 1.5, true},
		{"nan", math.NaN(), 0, true},
		{"inf", math.Inf(1), 0, true},
		{"neg inf", math.Inf(-1), 0, true},
		{"bool", true, true, true},
		{"nil dropped", nil, nil, false},
		{"stringer", stringer{}, "stringer", true},
		{"error", errors.New("boom"), "boom", true},
		{"map stringified", map[string]int{"a": 1}, `{"a":1}`, true},
		{"slice stringified", []string{"a", "b"}, `["a","b"]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := SanitizeValue(tt.input)
			assert.Equal(t, tt.wantKeep, keep)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeValueTruncatesRunes(t *testing.T) {
	got, _ := SanitizeValue(strings.Repeat("é", 120))
	assert.Equal(t, 100, len([]rune(got.(string))))
}

func TestSanitizeParams(t *testing.T) {
	params, res := SanitizeParams(map[string]any{
		"prompt_id": "p1",
		"1bad":      "x",
		"missing":   nil,
		"count":     3,
	})

	assert.Equal(t, Params{"prompt_id": "p1", "count": 3}, params)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "1bad", res.Warnings[0].Field)
	assert.True(t, res.Valid)
}

func TestSanitizeParamsCapsCustomParams(t *testing.T) {
	in := map[string]any{ParamSessionID: "s", ParamEngagementTime: 10}
	for i := 0; i < 30; i++ {
		in["p"+strings.Repeat("x", i)] = i
	}

	params, res := SanitizeParams(in)
	assert.Len(t, params, MaxParamsPerEvent)
	assert.Contains(t, params, ParamSessionID)
	assert.Contains(t, params, ParamEngagementTime)
	assert.Len(t, res.Warnings, 30-maxCustomParamsAllowed)
}

func TestSanitizeUserProperties(t *testing.T) {
	props := SanitizeUserProperties(map[string]any{
		"plan":                       strings.Repeat("p", 50),
		"way_too_long_property_name": "x",
		"theme":                      nil,
	})
	require.Len(t, props, 1)
	assert.Equal(t, strings.Repeat("p", 36), props["plan"].Value)

	assert.Nil(t, SanitizeUserProperties(nil))
}

func validPayload() *Payload {
	return &Payload{
		ClientID:           "6f1c2a4e-8d3b-4c5a-9e7f-1a2b3c4d5e6f",
		TimestampMicros:    1_700_000_000_000_000,
		NonPersonalizedAds: true,
		Events: []Event{{
			Name: "prompt_copy",
			Params: Params{
				ParamSessionID:      "1700000000000",
				ParamEngagementTime: int64(500),
				"prompt_id":         "p1",
			},
		}},
	}
}

func TestValidatePayload(t *testing.T) {
	res := ValidatePayload(validPayload())
	assert.True(t, res.Valid, res.Messages())
	assert.Empty(t, res.Errors)
}

func TestValidatePayloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Payload)
		contain string
	}{
		{"missing client id", func(p *Payload) { p.ClientID = "" }, "client_id"},
		{"no events", func(p *Payload) { p.Events = nil }, "events"},
		{"empty events", func(p *Payload) { p.Events = []Event{} }, "events"},
		{"missing session id", func(p *Payload) { delete(p.Events[0].Params, ParamSessionID) }, "session_id"},
		{"missing engagement", func(p *Payload) { delete(p.Events[0].Params, ParamEngagementTime) }, "engagement_time_msec"},
		{"zero engagement", func(p *Payload) { p.Events[0].Params[ParamEngagementTime] = 0 }, "engagement_time_msec"},
		{"session id not a string", func(p *Payload) { p.Events[0].Params[ParamSessionID] = 12 }, "session_id"},
		{"invalid event name", func(p *Payload) { p.Events[0].Name = "123bad" }, "123bad"},
		{"reserved event name", func(p *Payload) { p.Events[0].Name = "google_thing" }, "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)

			res := ValidatePayload(p)
			require.False(t, res.Valid)
			assert.Contains(t, strings.Join(res.Messages(), "\n"), tt.contain)
		})
	}
}

func TestValidatePayloadNil(t *testing.T) {
	assert.False(t, ValidatePayload(nil).Valid)
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filipexyz/beacon/internal/delivery"
	"github.com/filipexyz/beacon/internal/event"
)

func TestRunJqFilter(t *testing.T) {
	resp := &delivery.DebugResponse{
		ValidationMessages: []delivery.ValidationMessage{
			{FieldPath: "events.params", Description: "too many", ValidationCode: "VALUE_INVALID"},
			{Description: "bad name", ValidationCode: "NAME_INVALID"},
		},
	}
	payload := &event.Payload{ClientID: "c1", Events: []event.Event{{Name: "prompt_copy"}}}

	tests := []struct {
		name   string
		filter string
		want   []any
	}{
		{
			name:   "codes",
			filter: ".validationMessages[].validation_code",
			want:   []any{"VALUE_INVALID", "NAME_INVALID"},
		},
		{
			name:   "count",
			filter: ".validationMessages | length",
			want:   []any{2},
		},
		{
			name:   "payload variable",
			filter: "$payload.events[0].name",
			want:   []any{"prompt_copy"},
		},
		{
			name:   "select emits nothing",
			filter: `.validationMessages[] | select(.validation_code == "MISSING")`,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := compileJqFilter(tt.filter)
			require.NoError(t, err)

			got, err := runJqFilter(code, resp, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileJqFilterInvalid(t *testing.T) {
	_, err := compileJqFilter(".[")
	assert.Error(t, err)
}

func TestRunJqFilterRuntimeError(t *testing.T) {
	code, err := compileJqFilter(`error("nope")`)
	require.NoError(t, err)

	_, err = runJqFilter(code, map[string]any{}, nil)
	assert.Error(t, err)
}

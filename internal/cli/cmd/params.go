package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var errParamsNotObject = errors.New("params must be a JSON object")

// parseParams merges a JSON object argument with key=value pairs. Pair
// values that parse as JSON (numbers, booleans) keep their type; anything
// else is a string. Pairs override keys from the object.
func parseParams(raw string, pairs []string) (map[string]any, error) {
	params := map[string]any{}

	if strings.TrimSpace(raw) != "" {
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()

		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("%w: %v", errParamsNotObject, err)
		}
		if obj == nil {
			return nil, errParamsNotObject
		}
		for k, v := range obj {
			params[k] = v
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", pair)
		}
		params[key] = pairValue(value)
	}

	return params, nil
}

func pairValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil && json.Valid([]byte(s)) {
		return json.Number(s)
	}
	return s
}

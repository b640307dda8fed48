package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/itchyny/gojq"
)

// compileJqFilter parses and compiles a jq filter expression.
// Supports $payload to reference the assembled event payload.
func compileJqFilter(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, err
	}
	return gojq.Compile(query, gojq.WithVariables([]string{"$payload"}))
}

// runJqFilter evaluates code against the JSON form of data and returns
// every emitted value. payload is bound to $payload.
func runJqFilter(code *gojq.Code, data any, payload any) ([]any, error) {
	input, err := toJqValue(data)
	if err != nil {
		return nil, err
	}
	bound, err := toJqValue(payload)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.Run(input, bound)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, v)
	}
	return results, nil
}

// toJqValue round-trips v through JSON so gojq sees plain maps, slices
// and float64 numbers.
func toJqValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

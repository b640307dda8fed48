package cmd

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func maskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-2:]
}

func errInvalidProperty(name string) error {
	return fmt.Errorf("invalid user property name %q", name)
}

package event

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultEngagementMsec is used for events missing from the table.
const DefaultEngagementMsec int64 = 1000

// Default engagement times per event, in milliseconds.
var defaultEngagement = map[string]int64{
	// Views
	"page_view":   1000,
	"screen_view": 1000,
	"prompt_view": 1000,

	// Quick actions
	"prompt_copy":       500,
	"prompt_favorite":   500,
	"prompt_unfavorite": 500,
	"prompt_share":      500,
	"prompt_delete":     500,
	"category_select":   500,

	// Creation flows
	"prompt_create":   10000,
	"prompt_edit":     10000,
	"category_create": 10000,
	"prompt_import":   10000,

	// Other wrappers
	"search":          2000,
	"user_engagement": 1000,
	"conversion":      1000,
	"exception":       100,
	"extension_error": 100,
}

// EngagementTable maps event names to a default engagement time.
type EngagementTable struct {
	defaults map[string]int64
	fallback int64
}

type engagementFile struct {
	Fallback int64            `yaml:"fallback"`
	Events   map[string]int64 `yaml:"events"`
}

// NewEngagementTable returns the built-in table with overrides applied.
func NewEngagementTable(overrides map[string]int64) *EngagementTable {
	t := &EngagementTable{
		defaults: make(map[string]int64, len(defaultEngagement)+len(overrides)),
		fallback: DefaultEngagementMsec,
	}
	for k, v := range defaultEngagement {
		t.defaults[k] = v
	}
	for k, v := range overrides {
		if validEngagement(v) {
			t.defaults[k] = v
		}
	}
	return t
}

// LoadEngagementTable reads overrides from a YAML file of the form:
//
//	fallback: 1000
//	events:
//	  prompt_copy: 750
func LoadEngagementTable(path string) (*EngagementTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engagement file: %w", err)
	}
	var f engagementFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse engagement file: %w", err)
	}
	t := NewEngagementTable(f.Events)
	if validEngagement(f.Fallback) {
		t.fallback = f.Fallback
	}
	return t, nil
}

// Resolve returns explicit when it is within [1, 86400000] ms, otherwise
// the table default for name.
func (t *EngagementTable) Resolve(name string, explicit int64) int64 {
	if validEngagement(explicit) {
		return explicit
	}
	if v, ok := t.defaults[name]; ok {
		return v
	}
	return t.fallback
}

func validEngagement(v int64) bool {
	return v >= minEngagementTimeMsec && v <= MaxEngagementTimeMsec
}

package event

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

const (
	MaxNameLength          = 40
	MaxValueLength         = 100
	MaxUserPropertyName    = 24
	MaxUserPropertyValue   = 36
	MaxParamsPerEvent      = 25
	MaxEventsPerPayload    = 25
	MaxEngagementTimeMsec  = 86_400_000
	minEngagementTimeMsec  = 1
	reservedParamSlots     = 2
	maxCustomParamsAllowed = MaxParamsPerEvent - reservedParamSlots
)

var (
	validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

	reservedPrefixes = []string{"google_", "ga_", "firebase_"}
)

// IsValidName reports whether name is an acceptable event name.
func IsValidName(name string) bool {
	if !IsValidParamName(name) {
		return false
	}
	lower := strings.ToLower(name)
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(lower, p) {
			return false
		}
	}
	return true
}

// IsValidParamName reports whether name is an acceptable parameter name:
// 1-40 characters, a leading letter, then letters, digits or underscores.
func IsValidParamName(name string) bool {
	return name != "" && len(name) <= MaxNameLength && validName.MatchString(name)
}

// IsValidUserPropertyName applies the shorter user property limit.
func IsValidUserPropertyName(name string) bool {
	return name != "" && len(name) <= MaxUserPropertyName && validName.MatchString(name)
}

// SanitizeValue coerces v into something the collector accepts. The
// second return value is false when the parameter should be dropped.
func SanitizeValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return truncate(val, MaxValueLength), true
	case bool:
		return val, true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val, true
	case float32:
		if f := float64(val); math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, true
		}
		return val, true
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, true
		}
		return val, true
	case json.Number:
		return val, true
	case fmt.Stringer:
		return truncate(val.String(), MaxValueLength), true
	case error:
		return truncate(val.Error(), MaxValueLength), true
	}

	if data, err := json.Marshal(v); err == nil {
		return truncate(string(data), MaxValueLength), true
	}
	return truncate(fmt.Sprint(v), MaxValueLength), true
}

// SanitizeParams returns a copy of params with invalid names and nil
// values dropped, values sanitized, and custom parameters capped so the
// measurement parameters always fit. Dropped entries are reported as
// warnings on the result.
func SanitizeParams(params map[string]any) (Params, *ValidationResult) {
	res := newResult()
	out := make(Params, len(params)+reservedParamSlots)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	custom := 0
	for _, k := range keys {
		if !IsValidParamName(k) {
			res.AddWarning(k, CodeNameInvalid, "parameter name is invalid, dropped")
			continue
		}
		v, keep := SanitizeValue(params[k])
		if !keep {
			continue
		}
		if k != ParamSessionID && k != ParamEngagementTime {
			if custom >= maxCustomParamsAllowed {
				res.AddWarning(k, CodeValueOutOfBounds, "too many parameters, dropped")
				continue
			}
			custom++
		}
		out[k] = v
	}
	return out, res
}

// SanitizeUserProperties validates names and truncates values to the
// user property limits.
func SanitizeUserProperties(props map[string]any) map[string]UserProperty {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]UserProperty, len(props))
	for k, v := range props {
		if !IsValidUserPropertyName(k) {
			continue
		}
		sv, keep := SanitizeValue(v)
		if !keep {
			continue
		}
		if s, ok := sv.(string); ok {
			sv = truncate(s, MaxUserPropertyValue)
		}
		out[k] = UserProperty{Value: sv}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ValidatePayload checks a fully assembled payload. Structure is checked
// against the embedded JSON schema; naming rules are checked here.
func ValidatePayload(p *Payload) *ValidationResult {
	res := newResult()
	if p == nil {
		res.AddError("", CodeValueRequired, "payload is nil")
		return res
	}

	validateSchema(p, res)

	for i, ev := range p.Events {
		field := fmt.Sprintf("events.%d.name", i)
		if !IsValidName(ev.Name) {
			if IsValidParamName(ev.Name) {
				res.AddError(field, CodeNameReserved, fmt.Sprintf("event name %q uses a reserved prefix", ev.Name))
			} else {
				res.AddError(field, CodeNameInvalid, fmt.Sprintf("event name %q is invalid", ev.Name))
			}
		}
		for k := range ev.Params {
			if !IsValidParamName(k) {
				res.AddError(fmt.Sprintf("events.%d.params.%s", i, k), CodeNameInvalid, "parameter name is invalid")
			}
		}
	}

	for k := range p.UserProperties {
		if !IsValidUserPropertyName(k) {
			res.AddError("user_properties."+k, CodeNameInvalid, "user property name is invalid")
		}
	}

	return res
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

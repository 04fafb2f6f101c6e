// Package settings is the typed system settings registry.
package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type is the value type of a setting.
type Type string

const (
	TypeString   Type = "string"
	TypeInt      Type = "int"
	TypeFloat    Type = "float"
	TypeBool     Type = "bool"
	TypeDuration Type = "duration"
)

// Setting keys
const (
	KeySchoolYear         = "school_year"
	KeyCurrentQuarter     = "current_quarter"
	KeyDocumentBaseFee    = "document_base_fee"
	KeyUrgentRequestFee   = "urgent_request_fee"
	KeyLoginMaxAttempts   = "login_max_attempts"
	KeyLoginLockoutWindow = "login_lockout_window"
	KeyGradeReleasePush   = "grade_release_push"
)

// Definition describes one setting.
type Definition struct {
	Key         string `json:"key"`
	Type        Type   `json:"type"`
	Description string `json:"description"`

	defaultValue func(now time.Time) string
	check        func(v interface{}) error
}

// Default returns the canonical default value at now.
func (d Definition) Default(now time.Time) string {
	return d.defaultValue(now)
}

func static(v string) func(time.Time) string {
	return func(time.Time) string { return v }
}

// CurrentSchoolYear returns "YYYY-YYYY" for now. School years start in June.
func CurrentSchoolYear(now time.Time) string {
	y := now.Year()
	if now.Month() < time.June {
		y--
	}
	return fmt.Sprintf("%d-%d", y, y+1)
}

// Schema is the closed set of known settings.
var Schema = map[string]Definition{
	KeySchoolYear: {
		Key: KeySchoolYear, Type: TypeString,
		Description:  "Active school year, e.g. 2025-2026",
		defaultValue: CurrentSchoolYear,
		check: func(v interface{}) error {
			s := v.(string)
			var a, b int
			if _, err := fmt.Sscanf(s, "%d-%d", &a, &b); err != nil || b != a+1 {
				return fmt.Errorf("must look like 2025-2026")
			}
			return nil
		},
	},
	KeyCurrentQuarter: {
		Key: KeyCurrentQuarter, Type: TypeInt,
		Description:  "Active grading quarter (1-4)",
		defaultValue: static("1"),
		check: func(v interface{}) error {
			if q := v.(int64); q < 1 || q > 4 {
				return fmt.Errorf("must be between 1 and 4")
			}
			return nil
		},
	},
	KeyDocumentBaseFee: {
		Key: KeyDocumentBaseFee, Type: TypeFloat,
		Description:  "Fee charged per document request",
		defaultValue: static("50"),
		check:        nonNegative,
	},
	KeyUrgentRequestFee: {
		Key: KeyUrgentRequestFee, Type: TypeFloat,
		Description:  "Surcharge added to urgent document requests",
		defaultValue: static("100"),
		check:        nonNegative,
	},
	KeyLoginMaxAttempts: {
		Key: KeyLoginMaxAttempts, Type: TypeInt,
		Description:  "Failed logins allowed within the lockout window",
		defaultValue: static("5"),
		check: func(v interface{}) error {
			if v.(int64) < 1 {
				return fmt.Errorf("must be at least 1")
			}
			return nil
		},
	},
	KeyLoginLockoutWindow: {
		Key: KeyLoginLockoutWindow, Type: TypeDuration,
		Description:  "Window for counting failed logins and lockout length",
		defaultValue: static("15m0s"),
		check: func(v interface{}) error {
			if v.(time.Duration) <= 0 {
				return fmt.Errorf("must be positive")
			}
			return nil
		},
	},
	KeyGradeReleasePush: {
		Key: KeyGradeReleasePush, Type: TypeBool,
		Description:  "Send push messages when grades are released",
		defaultValue: static("true"),
	},
}

func nonNegative(v interface{}) error {
	if f := v.(float64); f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}

// parse converts a stored string to the typed value of def.
func parse(def Definition, raw string) (interface{}, error) {
	switch def.Type {
	case TypeString:
		return raw, nil
	case TypeInt:
		return strconv.ParseInt(raw, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(raw, 64)
	case TypeBool:
		return strconv.ParseBool(raw)
	case TypeDuration:
		return time.ParseDuration(raw)
	}
	return nil, fmt.Errorf("unknown type %q", def.Type)
}

// normalize validates an incoming value (as decoded from JSON) and returns
// its canonical stored form.
func normalize(def Definition, v interface{}) (string, error) {
	var raw string
	switch def.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("must be a non-empty string")
		}
		raw = strings.TrimSpace(s)
	case TypeInt:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return "", fmt.Errorf("must be an integer")
			}
			raw = strconv.FormatInt(int64(n), 10)
		case int:
			raw = strconv.Itoa(n)
		case int64:
			raw = strconv.FormatInt(n, 10)
		case string:
			raw = strings.TrimSpace(n)
		default:
			return "", fmt.Errorf("must be an integer")
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			raw = strconv.FormatFloat(n, 'f', -1, 64)
		case int:
			raw = strconv.Itoa(n)
		case string:
			raw = strings.TrimSpace(n)
		default:
			return "", fmt.Errorf("must be a number")
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			raw = strconv.FormatBool(b)
		case string:
			raw = strings.TrimSpace(b)
		default:
			return "", fmt.Errorf("must be a boolean")
		}
	case TypeDuration:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("must be a duration string like 15m")
		}
		raw = strings.TrimSpace(s)
	}

	typed, err := parse(def, raw)
	if err != nil {
		return "", fmt.Errorf("must be of type %s", def.Type)
	}
	if def.check != nil {
		if err := def.check(typed); err != nil {
			return "", err
		}
	}

	// Canonical form
	switch t := typed.(type) {
	case time.Duration:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return raw, nil
}

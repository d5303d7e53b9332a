package risk

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// HealthFactor is the ratio of a vault's max LTV to its current LTV. A vault
// without debt has an infinite health factor.
type HealthFactor float64

// InfiniteHealthFactor is the health factor of a debt-free vault.
var InfiniteHealthFactor = HealthFactor(math.Inf(1))

const infinityLiteral = "Infinity"

// IsInfinite reports whether the vault carries no debt.
func (h HealthFactor) IsInfinite() bool {
	return math.IsInf(float64(h), 1)
}

// Float64 returns the raw value.
func (h HealthFactor) Float64() float64 {
	return float64(h)
}

func (h HealthFactor) String() string {
	if h.IsInfinite() {
		return infinityLiteral
	}
	return strconv.FormatFloat(float64(h), 'f', 4, 64)
}

// MarshalJSON encodes +Inf as the string "Infinity"; JSON has no literal for it.
func (h HealthFactor) MarshalJSON() ([]byte, error) {
	if h.IsInfinite() {
		return json.Marshal(infinityLiteral)
	}
	if math.IsNaN(float64(h)) || math.IsInf(float64(h), -1) {
		return nil, fmt.Errorf("invalid health factor %v", float64(h))
	}
	return json.Marshal(float64(h))
}

// UnmarshalJSON accepts a number, "Infinity" or null (treated as infinite).
func (h *HealthFactor) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*h = InfiniteHealthFactor
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == infinityLiteral {
			*h = InfiniteHealthFactor
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid health factor %q", s)
		}
		*h = HealthFactor(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*h = HealthFactor(f)
	return nil
}

// Value stores an infinite health factor as NULL.
func (h HealthFactor) Value() (driver.Value, error) {
	if h.IsInfinite() {
		return nil, nil
	}
	return float64(h), nil
}

// Scan reads NULL back as infinite.
func (h *HealthFactor) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = InfiniteHealthFactor
	case float64:
		*h = HealthFactor(v)
	case float32:
		*h = HealthFactor(v)
	case int64:
		*h = HealthFactor(v)
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return err
		}
		*h = HealthFactor(f)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*h = HealthFactor(f)
	default:
		return fmt.Errorf("cannot scan %T into HealthFactor", src)
	}
	return nil
}

package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type ConditionType string

const (
	ConditionOracle  ConditionType = "oracle"
	ConditionTime    ConditionType = "time"
	ConditionBlock   ConditionType = "block"
	ConditionBalance ConditionType = "balance"
)

type Operator string

const (
	OpLT      Operator = "lt"
	OpLTE     Operator = "lte"
	OpGT      Operator = "gt"
	OpGTE     Operator = "gte"
	OpEQ      Operator = "eq"
	OpBetween Operator = "between"
)

// PolicyCondition is a comparison between a caller-supplied observation and
// the configured bound(s). SecondValue is only meaningful for OpBetween and
// Oracle only for ConditionOracle.
type PolicyCondition struct {
	Type        ConditionType `json:"type"`
	Operator    Operator      `json:"operator"`
	Value       string        `json:"value"`
	SecondValue string        `json:"secondValue,omitempty"`
	Oracle      string        `json:"oracle,omitempty"`
}

// Bounds parses Value and SecondValue. Time conditions accept unix seconds or
// RFC 3339 timestamps and are normalised to unix seconds.
func (c PolicyCondition) Bounds() (lo, hi decimal.Decimal, err error) {
	lo, err = c.parse(c.Value)
	if err != nil {
		return lo, hi, fmt.Errorf("value: %w", err)
	}
	if c.Operator != OpBetween {
		return lo, lo, nil
	}
	hi, err = c.parse(c.SecondValue)
	if err != nil {
		return lo, hi, fmt.Errorf("secondValue: %w", err)
	}
	return lo, hi, nil
}

// Holds applies the operator to observed.
func (c PolicyCondition) Holds(observed decimal.Decimal) (bool, error) {
	lo, hi, err := c.Bounds()
	if err != nil {
		return false, err
	}
	switch c.Operator {
	case OpLT:
		return observed.LessThan(lo), nil
	case OpLTE:
		return observed.LessThanOrEqual(lo), nil
	case OpGT:
		return observed.GreaterThan(lo), nil
	case OpGTE:
		return observed.GreaterThanOrEqual(lo), nil
	case OpEQ:
		return observed.Equal(lo), nil
	case OpBetween:
		return observed.GreaterThanOrEqual(lo) && observed.LessThanOrEqual(hi), nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

func (c PolicyCondition) parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.New("is empty")
	}
	d, err := decimal.NewFromString(s)
	if err == nil {
		return d, nil
	}
	if c.Type == ConditionTime {
		t, terr := time.Parse(time.RFC3339, s)
		if terr == nil {
			return decimal.NewFromInt(t.Unix()), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%q is not a number", s)
}

func (c PolicyCondition) validate(verr *ValidationError, prefix string) {
	switch c.Type {
	case ConditionOracle, ConditionTime, ConditionBlock, ConditionBalance:
	default:
		verr.Add(prefix+"type", "unknown condition type %q", c.Type)
	}
	switch c.Operator {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ:
		if c.SecondValue != "" {
			verr.Add(prefix+"secondValue", "only allowed with operator between")
		}
	case OpBetween:
		if c.SecondValue == "" {
			verr.Add(prefix+"secondValue", "is required with operator between")
		}
	default:
		verr.Add(prefix+"operator", "unknown operator %q", c.Operator)
	}
	if c.Type == ConditionOracle && c.Oracle == "" {
		verr.Add(prefix+"oracle", "is required for oracle conditions")
	}
	if c.Type != ConditionOracle && c.Oracle != "" {
		verr.Add(prefix+"oracle", "only allowed for oracle conditions")
	}

	lo, loErr := c.parse(c.Value)
	if loErr != nil {
		verr.Add(prefix+"value", "%v", loErr)
	}
	// A missing secondValue was reported above.
	if c.Operator != OpBetween || c.SecondValue == "" {
		return
	}
	hi, err := c.parse(c.SecondValue)
	if err != nil {
		verr.Add(prefix+"secondValue", "%v", err)
		return
	}
	if loErr == nil && hi.LessThan(lo) {
		verr.Add(prefix+"secondValue", "must be >= value")
	}
}

func indexed(list string, i int, field string) string {
	s := list + "[" + itoa(i) + "]"
	if field != "" {
		return s + "." + field
	}
	return s + "."
}

func itoa(i int) string { return strconv.Itoa(i) }

package pocket

import (
	"regexp"
	"strings"
)

// ValidatorKind tags the Validator sum-type variant (spec §4.11, §9).
type ValidatorKind int

const (
	ValidatorNone ValidatorKind = iota
	ValidatorRegex
	ValidatorStartsWith
	ValidatorEndsWith
	ValidatorContains
	ValidatorAll
	ValidatorAny
	ValidatorNot
	ValidatorCustom
)

// CustomValidatorFunc is a user-supplied predicate for ValidatorCustom. It
// must be total: a panic or non-bool-like result is treated as false rather
// than propagated, matching the broker-facing raw-message filter contract
// where a single bad validator must never take down the router.
type CustomValidatorFunc func(message string) bool

// Validator is a tagged filter tree applied to raw frame payloads routed to
// the raw/passthrough module (spec §4.11's "Validator tree" design note).
// None always matches; every other variant composes.
type Validator struct {
	kind ValidatorKind

	pattern string
	regex   *regexp.Regexp
	all     []*Validator
	any     []*Validator
	not     *Validator
	custom  CustomValidatorFunc
}

func NewNoneValidator() *Validator { return &Validator{kind: ValidatorNone} }

func NewRegexValidator(pattern string) (*Validator, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Validator{kind: ValidatorRegex, regex: re}, nil
}

func NewStartsWithValidator(prefix string) *Validator {
	return &Validator{kind: ValidatorStartsWith, pattern: prefix}
}

func NewEndsWithValidator(suffix string) *Validator {
	return &Validator{kind: ValidatorEndsWith, pattern: suffix}
}

func NewContainsValidator(substr string) *Validator {
	return &Validator{kind: ValidatorContains, pattern: substr}
}

func NewAllValidator(validators ...*Validator) *Validator {
	return &Validator{kind: ValidatorAll, all: validators}
}

func NewAnyValidator(validators ...*Validator) *Validator {
	return &Validator{kind: ValidatorAny, any: validators}
}

func NewNotValidator(v *Validator) *Validator {
	return &Validator{kind: ValidatorNot, not: v}
}

func NewCustomValidator(fn CustomValidatorFunc) *Validator {
	return &Validator{kind: ValidatorCustom, custom: fn}
}

// Validate applies the validator tree to message, swallowing any panic from
// a user-supplied Custom predicate and treating it as a non-match.
func (v *Validator) Validate(message string) (matched bool) {
	if v == nil {
		return true
	}
	switch v.kind {
	case ValidatorNone:
		return true
	case ValidatorRegex:
		return v.regex.MatchString(message)
	case ValidatorStartsWith:
		return strings.HasPrefix(message, v.pattern)
	case ValidatorEndsWith:
		return strings.HasSuffix(message, v.pattern)
	case ValidatorContains:
		return strings.Contains(message, v.pattern)
	case ValidatorAll:
		for _, sub := range v.all {
			if !sub.Validate(message) {
				return false
			}
		}
		return true
	case ValidatorAny:
		for _, sub := range v.any {
			if sub.Validate(message) {
				return true
			}
		}
		return false
	case ValidatorNot:
		return !v.not.Validate(message)
	case ValidatorCustom:
		defer func() {
			if recover() != nil {
				matched = false
			}
		}()
		return v.custom(message)
	default:
		return false
	}
}

package tollgate

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what happens to a request when the store cannot be
// consulted in time. There is no default: a limiter must be given one.
type FailurePolicy int

const (
	policyUnset FailurePolicy = iota

	// FailOpen admits requests while the store is unavailable.
	FailOpen

	// FailClosed rejects requests while the store is unavailable.
	FailClosed
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail-open"
	case FailClosed:
		return "fail-closed"
	default:
		return "unset"
	}
}

// ParseFailurePolicy accepts "fail-open"/"open" and "fail-closed"/"closed".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail-open", "open":
		return FailOpen, nil
	case "fail-closed", "closed":
		return FailClosed, nil
	default:
		return policyUnset, fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p FailurePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by YAML and env decoding.
func (p *FailurePolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseFailurePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p FailurePolicy) valid() bool {
	return p == FailOpen || p == FailClosed
}

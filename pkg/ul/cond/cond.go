// Package cond implements the condition values returned by every fallible
// Upper Layer operation.
//
// A Condition identifies its origin (module + code), carries a severity and a
// free-form diagnostic text, and optionally owns the condition (or plain
// error) that caused it. Conditions are created at the point of failure and
// never modified afterwards; deriving a more specific condition from a
// predefined one always allocates a new value:
//
//	return cond.IllegalPduLength.Errorf("primary field length %d exceeds item length %d", p, n)
//
// Callers branch with the standard library:
//
//	if errors.Is(err, cond.PduTooLarge) { ... }
//
// Two conditions match under errors.Is when module and code are equal; text
// and cause never take part in the comparison.
package cond

import (
	"errors"
	"fmt"
	"strings"
)

// Module identifies the layer that raised a condition.
type Module uint8

const (
	ModuleUpperLayer Module = iota + 1
	ModuleAssociation
	ModuleTransport
	ModuleIdentity
)

func (m Module) String() string {
	switch m {
	case ModuleUpperLayer:
		return "UL"
	case ModuleAssociation:
		return "ASC"
	case ModuleTransport:
		return "NET"
	case ModuleIdentity:
		return "IDN"
	default:
		return fmt.Sprintf("MOD%d", uint8(m))
	}
}

// Severity orders conditions from informational to unrecoverable.
type Severity uint8

const (
	SeverityOk Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityOk:
		return "ok"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// Condition is an immutable, chainable status value.
type Condition struct {
	module   Module
	code     uint16
	severity Severity
	name     string
	text     string
	cause    error
}

// New defines a condition. Packages use it to declare their predefined
// conditions; call sites derive from those with Errorf or Wrap.
func New(module Module, code uint16, severity Severity, name string) *Condition {
	return &Condition{module: module, code: code, severity: severity, name: name}
}

// Errorf returns a new condition with the identity of c and a formatted
// diagnostic text.
func (c *Condition) Errorf(format string, args ...any) *Condition {
	d := *c
	d.text = fmt.Sprintf(format, args...)
	d.cause = nil
	return &d
}

// Wrap returns a new condition with the identity of c that owns cause.
// The format arguments are optional.
func (c *Condition) Wrap(cause error, format string, args ...any) *Condition {
	d := *c
	if format != "" {
		d.text = fmt.Sprintf(format, args...)
	} else {
		d.text = ""
	}
	d.cause = cause
	return &d
}

func (c *Condition) Module() Module     { return c.module }
func (c *Condition) Code() uint16       { return c.code }
func (c *Condition) Severity() Severity { return c.severity }
func (c *Condition) Name() string       { return c.name }
func (c *Condition) Text() string       { return c.text }

// Cause returns the owned cause, or nil.
func (c *Condition) Cause() error { return c.cause }

// ID renders module and code, e.g. "UL:0101".
func (c *Condition) ID() string {
	return fmt.Sprintf("%s:%04X", c.module, c.code)
}

func (c *Condition) Error() string {
	var b strings.Builder
	b.WriteString(c.name)
	if c.text != "" {
		b.WriteString(": ")
		b.WriteString(c.text)
	}
	if c.cause != nil {
		b.WriteString(": ")
		b.WriteString(c.cause.Error())
	}
	return b.String()
}

func (c *Condition) Unwrap() error { return c.cause }

// Is reports whether target is a condition with the same module and code.
func (c *Condition) Is(target error) bool {
	t, ok := target.(*Condition)
	if !ok {
		return false
	}
	return t.module == c.module && t.code == c.code
}

// Good reports whether c is a success condition.
func (c *Condition) Good() bool {
	return c == nil || c.severity == SeverityOk
}

// From returns the outermost Condition in err's chain, or nil.
func From(err error) *Condition {
	var c *Condition
	if errors.As(err, &c) {
		return c
	}
	return nil
}

// Chain lists the conditions of err's cause chain, outermost first. Plain
// errors in the chain are skipped.
func Chain(err error) []*Condition {
	var out []*Condition
	for err != nil {
		if c, ok := err.(*Condition); ok {
			out = append(out, c)
		}
		err = errors.Unwrap(err)
	}
	return out
}

// Dump renders the full chain one condition per line, for diagnostics.
func Dump(err error) string {
	var b strings.Builder
	depth := 0
	for err != nil {
		if depth > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("  ", depth))
		}
		if c, ok := err.(*Condition); ok {
			fmt.Fprintf(&b, "%s [%s] %s", c.ID(), c.severity, c.name)
			if c.text != "" {
				b.WriteString(": ")
				b.WriteString(c.text)
			}
		} else {
			b.WriteString(err.Error())
			break
		}
		err = errors.Unwrap(err)
		depth++
	}
	return b.String()
}

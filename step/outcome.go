package step

import (
	"fmt"
	"maps"
)

// Kind tags the variant of an Outcome.
type Kind uint8

const (
	KindContinue Kind = iota + 1
	KindBranch
	KindFail
	KindAwaitHuman
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindBranch:
		return "branch"
	case KindFail:
		return "fail"
	case KindAwaitHuman:
		return "await_human"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Outcome is the result of one capability invocation. The zero Outcome is
// invalid; the executor treats it as a non-retryable failure.
type Outcome struct {
	kind      Kind
	output    map[string]any
	label     string
	reason    string
	retryable bool
}

// Continue advances to the step's single successor.
func Continue(output map[string]any) Outcome {
	return Outcome{kind: KindContinue, output: output}
}

// Branch advances to the successor mapped to label.
func Branch(label string, output map[string]any) Outcome {
	return Outcome{kind: KindBranch, label: label, output: output}
}

// Fail stops the step. A retryable failure of an externally-facing step
// is attempted again under the retry policy.
func Fail(reason string, retryable bool) Outcome {
	return Outcome{kind: KindFail, reason: reason, retryable: retryable}
}

// Failf is Fail with a formatted, non-retryable reason.
func Failf(format string, args ...any) Outcome {
	return Fail(fmt.Sprintf(format, args...), false)
}

// AwaitHuman suspends the run until a human acts on the document.
func AwaitHuman(reason string, output map[string]any) Outcome {
	return Outcome{kind: KindAwaitHuman, reason: reason, output: output}
}

// Kind returns the variant tag.
func (o Outcome) Kind() Kind { return o.kind }

// Valid reports whether the outcome was built by a constructor.
func (o Outcome) Valid() bool { return o.kind >= KindContinue && o.kind <= KindAwaitHuman }

// Output returns a copy of the step output.
func (o Outcome) Output() map[string]any { return maps.Clone(o.output) }

// Label returns the branch label of a Branch outcome.
func (o Outcome) Label() string { return o.label }

// Reason returns the failure or suspension reason.
func (o Outcome) Reason() string { return o.reason }

// Retryable reports whether a Fail outcome may be retried.
func (o Outcome) Retryable() bool { return o.kind == KindFail && o.retryable }

func (o Outcome) String() string {
	switch o.kind {
	case KindBranch:
		return "branch(" + o.label + ")"
	case KindFail:
		return fmt.Sprintf("fail(%s, retryable=%t)", o.reason, o.retryable)
	case KindAwaitHuman:
		return "await_human(" + o.reason + ")"
	default:
		return o.kind.String()
	}
}

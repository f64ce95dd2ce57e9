package step

import (
	"context"
	"fmt"
)

// Kind says how much of a step the tool does by itself.
type Kind string

const (
	// KindManual steps print instructions and wait for the operator.
	KindManual Kind = "MANUAL"
	// KindSemiAuto steps run commands but ask first.
	KindSemiAuto Kind = "SEMIAUTO"
	// KindAuto steps run without asking.
	KindAuto Kind = "AUTO"
)

// Info describes a step's identity.
type Info struct {
	ID   string
	Name string
	Kind Kind
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("step: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("step: name is required for %s", i.ID)
	}
	switch i.Kind {
	case KindManual, KindSemiAuto, KindAuto:
	default:
		return fmt.Errorf("step: unknown kind %q for %s", i.Kind, i.ID)
	}
	return nil
}

// Status enumerates step outcomes.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result captures the outcome of a step.
type Result struct {
	Status  Status
	Message string
}

// Done is a completed result.
func Done() Result { return Result{Status: StatusCompleted} }

// Skipped is a skipped result with the reason shown to the operator.
func Skipped(format string, args ...any) Result {
	return Result{Status: StatusSkipped, Message: fmt.Sprintf(format, args...)}
}

// Func performs a step.
type Func func(ctx context.Context) (Result, error)

// Step is one numbered entry of a pipeline.
type Step struct {
	Info Info
	Run  Func
}

// New builds a Step.
func New(id, name string, kind Kind, run Func) Step {
	return Step{Info: Info{ID: id, Name: name, Kind: kind}, Run: run}
}

// Error wraps the failure of a step with its position in the pipeline.
type Error struct {
	Title string
	Step  Info
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Title, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

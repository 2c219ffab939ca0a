package orchestrator

import "errors"

// Error categories. Use errors.Is to test the category of an error
// returned by Run.
var (
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrContainerStartup       = errors.New("database container startup failed")
	ErrConnection             = errors.New("database connection failed")
	ErrMigration              = errors.New("migration failed")
	ErrGeneration             = errors.New("code generation failed")
	ErrSourceRootRegistration = errors.New("source root registration failed")
)

// Error is a failure of one step of Run. Kind is one of the Err
// categories; Err is the cause.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the category of e.
func (e *Error) Is(target error) bool { return target == e.Kind }

func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

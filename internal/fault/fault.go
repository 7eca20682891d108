package fault

import (
	"errors"
	"fmt"
)

// #region kinds
// Kind classifies a failure for propagation and for mapping at the serving boundary.
type Kind string

const (
	Config   Kind = "config"             // missing or invalid parameter
	Data     Kind = "data"               // empty dataset, missing field, unstratifiable label
	NotFound Kind = "artifact_not_found" // unknown run id or missing upstream artifact
	Request  Kind = "request"            // malformed inference input
)

// #endregion kinds

// #region error
// Error is a classified error. Err carries the detail and is never nil.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// #endregion error

// #region constructors
// New classifies err as kind. A nil err yields nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func Configf(format string, args ...any) error {
	return &Error{Kind: Config, Err: fmt.Errorf(format, args...)}
}

func Dataf(format string, args ...any) error {
	return &Error{Kind: Data, Err: fmt.Errorf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: NotFound, Err: fmt.Errorf(format, args...)}
}

func Requestf(format string, args ...any) error {
	return &Error{Kind: Request, Err: fmt.Errorf(format, args...)}
}

// #endregion constructors

// #region classify
// Is reports whether any error in err's chain is a fault of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	for err != nil {
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// KindOf returns the outermost fault kind in err's chain, or "" if unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// #endregion classify

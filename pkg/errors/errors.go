package errors

import (
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Representation of errors returned by the service. There are three
// categories, distinguished by who has to act:
//  - the observation (or other named thing) does not exist;
//  - the request was malformed and will not work until the caller changes it;
//  - the request was fine but producing the result failed.
type Error struct {
	Type Type
	// a message that can be printed out for the caller
	Help string `json:"help"`
	// the underlying error, logged for operators
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// Producing the result failed: unreadable source, unrecoverable
	// WCS, encoding failure, external tool failure.
	Server Type = "server"
	// The observation id (or route) is not known.
	Missing Type = "missing"
	// A request parameter is missing, malformed, or not allowed in
	// combination with the others.
	User Type = "user"
)

// NotFound reports that the named thing does not exist.
func NotFound(format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Type: Missing, Err: err, Help: err.Error()}
}

// Invalid reports a parameter validation failure.
func Invalid(format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Type: User, Err: err, Help: err.Error()}
}

// Processing wraps a failure that happened while producing a result.
func Processing(err error, help string) *Error {
	if help == "" {
		help = "the image could not be processed: " + err.Error()
	}
	return &Error{Type: Server, Err: err, Help: help}
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	if e, ok := pkgerrors.Cause(err).(*Error); ok {
		return e, true
	}
	return nil, false
}

// TypeOf returns the category of err, looking through wrapped causes.
// Errors that carry no category are Server errors.
func TypeOf(err error) Type {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Type
	}
	return Server
}

func IsMissing(err error) bool {
	return err != nil && TypeOf(err) == Missing
}

func IsUser(err error) bool {
	return err != nil && TypeOf(err) == User
}

func IsServer(err error) bool {
	return err != nil && TypeOf(err) == Server
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Type: string(e.Type),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Type = Type(jsonable.Type)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

// CoverAllError turns an uncategorised error into a Server error with a
// generic help message.
func CoverAllError(err error) *Error {
	return &Error{
		Type: Server,
		Err:  err,
		Help: `Error: ` + err.Error() + `

The service has no specific help message for the error above. If it
persists, report it to the archive help desk together with the request
URL and the time of the request.
`,
	}
}

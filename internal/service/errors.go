package service

import "errors"

// Error is a service failure with a stable machine-readable code. Handlers expose
// the code as the "error" field of a JSON error body.
type Error struct {
	Code    string
	Message string
}

func (e Error) Error() string {
	return e.Message
}

// Is matches any Error with the same code.
func (e Error) Is(target error) bool {
	var t Error
	return errors.As(target, &t) && t.Code == e.Code
}

// NewError creates a new error
func NewError(code, message string) Error {
	return Error{Code: code, Message: message}
}

// ErrorCode returns the code of the first Error in err's chain.
func ErrorCode(err error) (string, bool) {
	var e Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

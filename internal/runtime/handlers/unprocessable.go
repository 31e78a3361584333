package handlers

// UnprocessableMessageError marks a payload that can never succeed: it
// failed to decode or failed validation. The dispatch chain skips retries
// for these and hands them straight to the error handler.
type UnprocessableMessageError struct {
	typeName string
	err      error
}

// NewUnprocessableMessageError wraps err as a permanent failure of the
// named message type. Handlers return one to opt a message out of retry.
func NewUnprocessableMessageError(typeName string, err error) *UnprocessableMessageError {
	return &UnprocessableMessageError{typeName: typeName, err: err}
}

func (e *UnprocessableMessageError) Error() string {
	return "unprocessable message type " + e.typeName + ": " + e.err.Error()
}

func (e *UnprocessableMessageError) Unwrap() error { return e.err }

package errors

// ErrorCode identifies an error class. Codes are stable strings so
// callers match on them with IsCode rather than on message text.
type ErrorCode string

// Error is a coded error with optional message, cause, and data
// payload. WithMessage and WithData return copies; codes never change
// after construction.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory creates coded errors. Each package keeps its own factory
// instance and its own code constants.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}

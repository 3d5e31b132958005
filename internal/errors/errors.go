package errors

import "fmt"

// AppError represents a custom application error
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error types
var (
	ErrDatabaseConnection = &AppError{Code: "DB_CONNECTION_FAILED", Message: "Failed to connect to database"}
	ErrInvalidCredentials = &AppError{Code: "INVALID_CREDENTIALS", Message: "Invalid credentials"}
	ErrUnauthorized       = &AppError{Code: "UNAUTHORIZED", Message: "Unauthorized access"}
	ErrValidationFailed   = &AppError{Code: "VALIDATION_FAILED", Message: "Validation failed"}
	ErrNotFound           = &AppError{Code: "NOT_FOUND", Message: "Resource not found"}
	ErrConflict           = &AppError{Code: "CONFLICT", Message: "Resource already exists"}
	ErrDomainNotVerified  = &AppError{Code: "DOMAIN_NOT_VERIFIED", Message: "Domain must be verified first"}
	ErrLimitReached       = &AppError{Code: "LIMIT_REACHED", Message: "Plan limit reached"}
	ErrAWSNotConfigured   = &AppError{Code: "AWS_NOT_CONFIGURED", Message: "AWS configuration incomplete"}
	ErrInternal           = &AppError{Code: "INTERNAL_ERROR", Message: "Internal server error"}
	ErrAccountLocked      = &AppError{Code: "ACCOUNT_LOCKED", Message: "Account temporarily locked"}
	ErrRateLimited        = &AppError{Code: "RATE_LIMITED", Message: "Too many requests"}
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an error with additional context
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails returns a copy of a predefined error carrying request-specific details
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// WithErr returns a copy of a predefined error wrapping the cause
func (e *AppError) WithErr(err error) *AppError {
	clone := *e
	clone.Err = err
	if err != nil && clone.Details == "" {
		clone.Details = err.Error()
	}
	return &clone
}

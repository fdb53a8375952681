package domain

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: msg,
		Status:  e.Status,
	}
}

var (
	// ErrConfiguration is fatal: the process must not start serving.
	ErrConfiguration = &AppError{
		Code:    "CONFIGURATION_ERROR",
		Message: "Missing or invalid configuration",
		Status:  500,
	}

	// ErrAuthentication rejects a single connection, never the process.
	ErrAuthentication = &AppError{
		Code:    "AUTHENTICATION_ERROR",
		Message: "Authentication failed",
		Status:  401,
	}

	ErrValidation = &AppError{
		Code:    "VALIDATION_ERROR",
		Message: "Invalid payload",
		Status:  400,
	}

	ErrTransport = &AppError{
		Code:    "TRANSPORT_ERROR",
		Message: "Transport failure",
		Status:  502,
	}

	ErrHandlerInvariant = &AppError{
		Code:    "HANDLER_INVARIANT",
		Message: "Handler invariant violated",
		Status:  500,
	}

	ErrNotFound = &AppError{
		Code:    "NOT_FOUND",
		Message: "Not found",
		Status:  404,
	}

	ErrInvalidRequest = &AppError{
		Code:    "INVALID_REQUEST",
		Message: "Invalid request",
		Status:  400,
	}

	ErrInternalServerError = &AppError{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: "Internal server error",
		Status:  500,
	}
)

package event

// Validation codes, shared with the debug collector's validationMessages.
const (
	CodeNameInvalid      = "NAME_INVALID"
	CodeNameReserved     = "NAME_RESERVED"
	CodeValueRequired    = "VALUE_REQUIRED"
	CodeValueInvalid     = "VALUE_INVALID"
	CodeValueOutOfBounds = "VALUE_OUT_OF_BOUNDS"
)

// ValidationError is a single field-level problem.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// ValidationResult collects the outcome of validating a payload.
type ValidationResult struct {
	Valid    bool
	Errors   []*ValidationError
	Warnings []*ValidationError
}

func newResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddError adds an error and marks the result invalid.
func (r *ValidationResult) AddError(field, code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, &ValidationError{Field: field, Code: code, Message: message})
}

// AddWarning records a non-fatal problem.
func (r *ValidationResult) AddWarning(field, code, message string) {
	r.Warnings = append(r.Warnings, &ValidationError{Field: field, Code: code, Message: message})
}

// Messages flattens the errors into strings for logging.
func (r *ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}

package facade

import "errors"

// Facade-local error kinds (spec §7: "Parse error... and Validation
// error... are facade-level").
var (
	// ErrParse means the request body was not valid JSON.
	ErrParse = errors.New("facade: malformed request body")

	// ErrValidation means the request failed a field-level rule (bad
	// method, bad url, cname out of range, limit not an integer, ...).
	ErrValidation = errors.New("facade: request failed validation")
)

// Package errcode gives the web API a small set of stable,
// machine-readable error identifiers: structured 409s for refused mode
// transitions, 400s for rejected parameter batches.
package errcode

// Code is a stable, API-facing error identifier: a string newtype,
// comparable, allocation-free, and implementing error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes surfaced by package webapi.
const (
	OK            Code = "ok"
	ModeRefused   Code = "mode_refused"
	InvalidParams Code = "invalid_params"
	InvalidAction Code = "invalid_action"
	Disconnected  Code = "disconnected"
	Unsupported   Code = "unsupported"
	Error         Code = "error" // generic fallback
)

// Of extracts a Code from err, defaulting to Error. It recognizes a
// bare Code, or anything implementing Code() Code (e.g. params.BatchError
// could grow one without this package needing to import params).
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Package errcode defines the error codes returned by the HTTP API and the
// JSON envelope they are served in.
//
// Codes are registered once, at init time, with Register. A registered
// ErrorCode is itself an error; WithDetail, WithMessage and WithArgs derive
// an Error carrying more context. ServeJSON writes an error, or an Errors
// list, with the status of its first code.
package errcode

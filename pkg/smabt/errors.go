// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import "errors"

var (
	// ErrFraming reports a missing delimiter, a dangling escape byte or a
	// malformed link header.
	ErrFraming = errors.New("smabt: framing error")

	// ErrChecksum reports a frame whose FCS does not match its content.
	ErrChecksum = errors.New("smabt: checksum mismatch")

	// ErrUnrecognizedCommand reports a link or session command code outside
	// the known set.
	ErrUnrecognizedCommand = errors.New("smabt: unrecognized command")

	// ErrDecodeShape reports a response record whose width cannot be determined
	// or that runs past the end of the payload.
	ErrDecodeShape = errors.New("smabt: undecodable record shape")

	// ErrPasswordTooLong reports a log-on password longer than PasswordSize bytes.
	ErrPasswordTooLong = errors.New("smabt: password too long")

	// ErrMissingQuantity reports a response that lacks a quantity an
	// aggregate view requires.
	ErrMissingQuantity = errors.New("smabt: missing quantity")
)

// IsDecodeError reports whether err is one of the non-fatal decode errors after
// which a stream reader can keep going.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrFraming) ||
		errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrUnrecognizedCommand) ||
		errors.Is(err, ErrDecodeShape)
}

// ErrorKind returns a short label for the decode error kind of err, or
// "other" when err is not a decode error.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrChecksum):
		return "checksum"
	case errors.Is(err, ErrUnrecognizedCommand):
		return "unknown_command"
	case errors.Is(err, ErrDecodeShape):
		return "shape"
	case errors.Is(err, ErrFraming):
		return "framing"
	default:
		return "other"
	}
}

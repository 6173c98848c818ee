// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyInvalidRange
	AnomalyInvalidValue
	AnomalyMissingValue
	AnomalyDecodeError
)

// String returns a short snake_case name for the anomaly
func (a AnomalyType) String() string {
	switch a {
	case AnomalyLengthMismatch:
		return "length_mismatch"
	case AnomalyInvalidRange:
		return "invalid_range"
	case AnomalyInvalidValue:
		return "invalid_value"
	case AnomalyMissingValue:
		return "missing_value"
	case AnomalyDecodeError:
		return "decode_error"
	default:
		return fmt.Sprintf("anomaly(%d)", int(a))
	}
}

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Plausible ranges for spot values
const (
	minGridFrequency = 4000 // 40.00 Hz
	maxGridFrequency = 7000 // 70.00 Hz
	maxSpotPower     = 100000
)

// ValidateSessionPacket checks payload sizes and decoded values for anomalies.
// Returns a slice of validation errors (empty if the packet looks sane).
func ValidateSessionPacket(p *SessionPacket) []ValidationError {
	errors := []ValidationError{}

	kind, err := p.Command.Kind()
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: err.Error(),
			Details: map[string]interface{}{"command": p.Command.String()},
		}}
	}

	if p.Command.IsResponse() {
		if kind == KindData {
			errors = append(errors, validateDataResponse(p)...)
		}
		return errors
	}

	switch kind {
	case KindLogOff:
		errors = append(errors, expectPayload(p, "LOGOFF", 4)...)
	case KindLogOn:
		errors = append(errors, expectPayload(p, "LOGON", 16+PasswordSize)...)
	case KindData:
		errors = append(errors, validateDataRequest(p)...)
	}

	return errors
}

func expectPayload(p *SessionPacket, name string, size int) []ValidationError {
	if len(p.Payload) == size {
		return nil
	}
	return []ValidationError{{
		Type:    AnomalyLengthMismatch,
		Message: fmt.Sprintf("%s payload is %d bytes (expected %d)", name, len(p.Payload), size),
		Details: map[string]interface{}{"length": len(p.Payload), "expected": size},
	}}
}

// validateDataRequest checks the requested register range
func validateDataRequest(p *SessionPacket) []ValidationError {
	if errs := expectPayload(p, "DATA request", 8); errs != nil {
		return errs
	}
	start := binary.LittleEndian.Uint32(p.Payload[0:4])
	end := binary.LittleEndian.Uint32(p.Payload[4:8])
	if start > end {
		return []ValidationError{{
			Type:    AnomalyInvalidRange,
			Message: fmt.Sprintf("Register range start 0x%08X is after end 0x%08X", start, end),
			Details: map[string]interface{}{"start": start, "end": end},
		}}
	}
	return nil
}

// validateDataResponse decodes the response and checks spot values
func validateDataResponse(p *SessionPacket) []ValidationError {
	errors := []ValidationError{}

	elements, err := DecodeDataResponse(p.Payload)
	if err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: err.Error(),
			Details: map[string]interface{}{"length": len(p.Payload)},
		}}
	}

	if e, ok := elements[QuantitySpotACPower]; ok {
		switch {
		case e.Raw == math.MinInt32:
			// The inverter reports int32 minimum while it is not feeding in
			errors = append(errors, ValidationError{
				Type:    AnomalyMissingValue,
				Message: "SPOT_AC_POWER has no value",
				Details: map[string]interface{}{"raw": e.Raw},
			})
		case e.Raw < 0 || e.Raw > maxSpotPower:
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Invalid SPOT_AC_POWER=%d W", e.Raw),
				Details: map[string]interface{}{"raw": e.Raw, "max": maxSpotPower},
			})
		}
	}

	if e, ok := elements[QuantitySpotACFrequency]; ok {
		switch {
		case e.Raw == math.MinInt32:
			errors = append(errors, ValidationError{
				Type:    AnomalyMissingValue,
				Message: "SPOT_AC_FREQUENCY has no value",
				Details: map[string]interface{}{"raw": e.Raw},
			})
		case e.Raw < minGridFrequency || e.Raw > maxGridFrequency:
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Invalid SPOT_AC_FREQUENCY=%s Hz", e.Value),
				Details: map[string]interface{}{"raw": e.Raw, "min": minGridFrequency, "max": maxGridFrequency},
			})
		}
	}

	today, hasToday := elements[QuantityProdToday]
	lifetime, hasLifetime := elements[QuantityProdLifetime]
	if hasToday && hasLifetime && today.Raw > lifetime.Raw {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("PROD_TODAY=%s exceeds PROD_LIFETIME=%s", today.Value, lifetime.Value),
			Details: map[string]interface{}{"today": today.Raw, "lifetime": lifetime.Raw},
		})
	}

	return errors
}

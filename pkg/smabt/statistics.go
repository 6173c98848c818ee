// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks packet statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	SessionPackets   uint64
	Handshakes       uint64
	ChecksumErrors   uint64
	FramingErrors    uint64
	UnknownCommands  uint64
	ShapeErrors      uint64
	LengthMismatches uint64
	InvalidRanges    uint64
	AnomalousValues  uint64
	MissingValues    uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a link packet, the session packet it
// completed (if any), a decode error and validation errors
func (s *Statistics) Update(link *LinkPacket, session *SessionPacket, decodeErr error, validationErrors []ValidationError) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrChecksum):
			s.ChecksumErrors++
		case errors.Is(decodeErr, ErrUnrecognizedCommand):
			s.UnknownCommands++
		case errors.Is(decodeErr, ErrDecodeShape):
			s.ShapeErrors++
		default:
			s.FramingErrors++
		}
		return
	}

	if link != nil {
		switch link.Command {
		case LinkHandshake1, LinkHandshake3, LinkHandshake4, LinkHandshake5:
			s.Handshakes++
		}
	}
	if session != nil {
		s.SessionPackets++
	}

	if len(validationErrors) == 0 {
		s.ValidPackets++
		return
	}
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyLengthMismatch:
			s.LengthMismatches++
		case AnomalyInvalidRange:
			s.InvalidRanges++
		case AnomalyInvalidValue:
			s.AnomalousValues++
		case AnomalyMissingValue:
			s.MissingValues++
		case AnomalyDecodeError:
			s.ShapeErrors++
		}
	}
}

// Errors returns the number of packets that failed to decode
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.FramingErrors + s.UnknownCommands + s.ShapeErrors
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.Errors()+s.AnomalousValues) / elapsed
	}
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100.0 / float64(total)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets, s.TotalPackets))
	result += fmt.Sprintf("Session Packets: %8d\n", s.SessionPackets)

	if s.Handshakes > 0 {
		result += fmt.Sprintf("Handshakes:      %8d\n", s.Handshakes)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("FCS Errors:      %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors, s.TotalPackets))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors, s.TotalPackets))
	}
	if s.UnknownCommands > 0 {
		result += fmt.Sprintf("Unknown Cmds:    %8d (%.1f%%)\n", s.UnknownCommands, percent(s.UnknownCommands, s.TotalPackets))
	}
	if s.ShapeErrors > 0 {
		result += fmt.Sprintf("Shape Errors:    %8d (%.1f%%)\n", s.ShapeErrors, percent(s.ShapeErrors, s.TotalPackets))
	}
	if s.LengthMismatches > 0 {
		result += fmt.Sprintf("Length Mismatch: %8d\n", s.LengthMismatches)
	}
	if s.InvalidRanges > 0 {
		result += fmt.Sprintf("Invalid Ranges:  %8d\n", s.InvalidRanges)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues, s.TotalPackets))
	}
	if s.MissingValues > 0 {
		result += fmt.Sprintf("Missing Values:  %8d\n", s.MissingValues)
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

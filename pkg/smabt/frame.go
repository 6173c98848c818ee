// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import "fmt"

// EncodeFrame wraps content in a delimited, byte-stuffed frame.
// The FCS is appended little-endian before stuffing.
func EncodeFrame(content []byte) []byte {
	data := make([]byte, 0, len(content)+2)
	data = append(data, content...)

	fcs := CalculateFCS(content)
	data = append(data, byte(fcs), byte(fcs>>8))

	stuffed := EscapeBytes(data)

	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, Delimiter)
	frame = append(frame, stuffed...)
	frame = append(frame, Delimiter)
	return frame
}

// DecodeFrame finds the first frame in wire, removes byte stuffing, and verifies
// and strips the FCS. It returns the frame content and the number of bytes of
// wire consumed, so a caller can resume scanning after a bad frame.
//
// Back-to-back delimiters are treated as idle fill: an empty frame is never
// reported, the later delimiter simply opens the frame.
func DecodeFrame(wire []byte) ([]byte, int, error) {
	start := -1
	limit := min(len(wire), MaxFrameScan)
	for i := 0; i < limit; i++ {
		if wire[i] == Delimiter {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, limit, fmt.Errorf("%w: no opening delimiter in %d bytes", ErrFraming, limit)
	}

	content := make([]byte, 0, len(wire)-start)
	escapeNext := false

	for i := start + 1; i < len(wire); i++ {
		if i-start > MaxFrameScan {
			return nil, i, fmt.Errorf("%w: no closing delimiter within %d bytes", ErrFraming, MaxFrameScan)
		}

		b := wire[i]
		if b == Delimiter {
			if escapeNext {
				return nil, i, fmt.Errorf("%w: escape byte before delimiter", ErrFraming)
			}
			if len(content) == 0 {
				start = i
				continue
			}
			if len(content) < 2 {
				return nil, i + 1, fmt.Errorf("%w: frame too short (%d bytes)", ErrFraming, len(content))
			}

			n := len(content) - 2
			received := uint16(content[n]) | uint16(content[n+1])<<8
			calculated := CalculateFCS(content[:n])
			if received != calculated {
				return nil, i + 1, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrChecksum, calculated, received)
			}
			return content[:n], i + 1, nil
		}

		if escapeNext {
			content = append(content, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			content = append(content, b)
		}
	}

	if escapeNext {
		return nil, len(wire), fmt.Errorf("%w: incomplete escape sequence at end of data", ErrFraming)
	}
	return nil, len(wire), fmt.Errorf("%w: no closing delimiter", ErrFraming)
}

// FrameChecksum computes the FCS of an unescaped frame held in buf, which must
// start with a delimiter. When buf also ends with a delimiter it is taken to be
// a complete frame and the trailing FCS bytes and delimiter are left out.
func FrameChecksum(buf []byte) (uint16, error) {
	if len(buf) == 0 || buf[0] != Delimiter {
		return 0, fmt.Errorf("%w: not at the start of a frame", ErrFraming)
	}
	end := len(buf)
	if len(buf) > 1 && buf[len(buf)-1] == Delimiter {
		if len(buf) < 4 {
			return 0, fmt.Errorf("%w: frame too short (%d bytes)", ErrFraming, len(buf))
		}
		end -= 3
	}
	return CalculateFCS(buf[1:end]), nil
}

// EscapeBytes applies byte stuffing.
// Reserved bytes are replaced with EscByte + (byte XOR EscXor).
func EscapeBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)+len(data)/4)

	for _, b := range data {
		if isEscaped(b) {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnescapeBytes removes byte stuffing from escaped data.
// This is the inverse of EscapeBytes.
func UnescapeBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("%w: incomplete escape sequence at end of data", ErrFraming)
	}

	return result, nil
}

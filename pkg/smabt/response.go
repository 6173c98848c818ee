// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"
)

// Quantity is the 24-bit code naming a measurement in a data response
type Quantity uint32

// Known quantities
const (
	QuantityProdToday           Quantity = 0x262201
	QuantityProdLifetime        Quantity = 0x260101
	QuantitySpotACPower         Quantity = 0x263F01
	QuantitySpotACFrequency     Quantity = 0x465701
	QuantityOperationTime       Quantity = 0x462E01
	QuantityOperationFeedInTime Quantity = 0x462F01
)

// Known reports whether the decoder understands the quantity
func (q Quantity) Known() bool {
	switch q {
	case QuantityProdToday, QuantityProdLifetime, QuantitySpotACPower,
		QuantitySpotACFrequency, QuantityOperationTime, QuantityOperationFeedInTime:
		return true
	}
	return false
}

// String returns the quantity name
func (q Quantity) String() string {
	switch q {
	case QuantityProdToday:
		return "PROD_TODAY"
	case QuantityProdLifetime:
		return "PROD_LIFETIME"
	case QuantitySpotACPower:
		return "SPOT_AC_POWER"
	case QuantitySpotACFrequency:
		return "SPOT_AC_FREQUENCY"
	case QuantityOperationTime:
		return "OPERATION_TIME"
	case QuantityOperationFeedInTime:
		return "OPERATION_FEEDIN_TIME"
	default:
		return fmt.Sprintf("QUANTITY_%06X", uint32(q))
	}
}

// Unit returns the unit of the decoded value
func (q Quantity) Unit() string {
	switch q {
	case QuantityProdToday, QuantityProdLifetime:
		return "kWh"
	case QuantitySpotACPower:
		return "W"
	case QuantitySpotACFrequency:
		return "Hz"
	case QuantityOperationTime, QuantityOperationFeedInTime:
		return "h"
	default:
		return ""
	}
}

// Shape is the value type selector in the high byte of a record tag
type Shape uint8

// Record shapes
const (
	ShapeLong   Shape = 0x00
	ShapeStatus Shape = 0x08
	ShapeText   Shape = 0x10
	ShapeInt    Shape = 0x40
)

// String returns the shape name
func (s Shape) String() string {
	switch s {
	case ShapeLong:
		return "LONG"
	case ShapeStatus:
		return "STATUS"
	case ShapeText:
		return "TEXT"
	case ShapeInt:
		return "INT"
	default:
		return fmt.Sprintf("SHAPE_%02X", uint8(s))
	}
}

// width returns the value width of an unknown record, or 0 when it cannot be
// determined from the shape alone.
func (s Shape) width() int {
	switch s {
	case ShapeLong:
		return 8
	case ShapeInt:
		return 4
	default:
		return 0
	}
}

// Element is one decoded record of a data response
type Element struct {
	Quantity  Quantity
	Shape     Shape
	Raw       int64 // value as sent by the inverter
	Value     Value
	Timestamp time.Time
}

// String formats the element as "NAME: value unit (timestamp)"
func (e Element) String() string {
	unit := e.Quantity.Unit()
	if unit != "" {
		unit = " " + unit
	}
	return fmt.Sprintf("%s: %s%s (%s)", e.Quantity, e.Value, unit, e.Timestamp.Format(time.RFC3339))
}

// Elements maps quantities to their most recent record
type Elements map[Quantity]Element

// Merge copies every element of other into e, overwriting duplicates
func (e Elements) Merge(other Elements) {
	for q, el := range other {
		e[q] = el
	}
}

// Quantities returns the quantities present, in ascending code order
func (e Elements) Quantities() []Quantity {
	quantities := make([]Quantity, 0, len(e))
	for q := range e {
		quantities = append(quantities, q)
	}
	sort.Slice(quantities, func(i, j int) bool { return quantities[i] < quantities[j] })
	return quantities
}

// decodeRecord reads the value of a known quantity. It returns the raw value,
// the reported value and the number of bytes consumed.
func decodeRecord(q Quantity, data []byte) (int64, Value, int, error) {
	var width int
	switch q {
	case QuantitySpotACPower, QuantitySpotACFrequency:
		width = 4
	default:
		width = 8
	}
	if len(data) < width {
		return 0, Value{}, 0, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrDecodeShape, q, width, len(data))
	}

	var raw int64
	if width == 4 {
		raw = int64(int32(binary.LittleEndian.Uint32(data)))
	} else {
		raw = int64(binary.LittleEndian.Uint64(data))
	}

	switch q {
	case QuantityProdToday, QuantityProdLifetime:
		return raw, NewValue(raw, 3), width, nil
	case QuantitySpotACPower:
		return raw, NewValue(raw, 0), width, nil
	case QuantitySpotACFrequency:
		return raw, NewValue(raw, 2), width, nil
	default:
		// Operation counters arrive in seconds and are reported in hours,
		// rounded up to three decimals.
		return raw, NewValue(ceilDiv(raw*1000, 3600), 3), width, nil
	}
}

// DecodeDataResponse decodes the payload of a DATA response. The first
// ResponseHeaderSize bytes are skipped; records follow as tag, timestamp,
// value. Records of unknown quantities are skipped by their shape width; an
// unknown quantity whose shape has no fixed width returns ErrDecodeShape.
// Later records of the same quantity replace earlier ones.
func DecodeDataResponse(payload []byte) (Elements, error) {
	if len(payload) < ResponseHeaderSize {
		return nil, fmt.Errorf("%w: response payload of %d bytes", ErrDecodeShape, len(payload))
	}

	elements := make(Elements)
	data := payload[ResponseHeaderSize:]

	for len(data) >= RecordHeaderSize {
		tag := binary.LittleEndian.Uint32(data[0:4])
		shape := Shape(tag >> 24)
		quantity := Quantity(tag & 0xFFFFFF)
		timestamp := time.Unix(int64(binary.LittleEndian.Uint32(data[4:8])), 0).UTC()
		data = data[RecordHeaderSize:]

		if !quantity.Known() {
			width := shape.width()
			if width == 0 {
				return nil, fmt.Errorf("%w: %s record for unknown quantity 0x%06X", ErrDecodeShape, shape, uint32(quantity))
			}
			if len(data) < width {
				return nil, fmt.Errorf("%w: %s record truncated (%d bytes left)", ErrDecodeShape, shape, len(data))
			}
			data = data[width:]
			continue
		}

		raw, value, n, err := decodeRecord(quantity, data)
		if err != nil {
			return nil, err
		}
		data = data[n:]

		elements[quantity] = Element{
			Quantity:  quantity,
			Shape:     shape,
			Raw:       raw,
			Value:     value,
			Timestamp: timestamp,
		}
	}

	return elements, nil
}

// DecodeResponse decodes the elements of a DATA session packet
func DecodeResponse(p *SessionPacket) (Elements, error) {
	kind, err := p.Command.Kind()
	if err != nil {
		return nil, err
	}
	if kind != KindData {
		return nil, fmt.Errorf("%w: %s packet is not a data response", ErrUnrecognizedCommand, kind)
	}
	return DecodeDataResponse(p.Payload)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponseHex(t *testing.T, s string) Elements {
	t.Helper()
	elements, err := DecodeResponse(decodeSessionHex(t, s))
	require.NoError(t, err)
	return elements
}

// record builds one response record
func record(shape Shape, q Quantity, ts uint32, value []byte) []byte {
	buf := make([]byte, 8, 8+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(shape)<<24|uint32(q))
	binary.LittleEndian.PutUint32(buf[4:8], ts)
	return append(buf, value...)
}

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func le64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func responsePayload(records ...[]byte) []byte {
	payload := make([]byte, ResponseHeaderSize)
	for _, r := range records {
		payload = append(payload, r...)
	}
	return payload
}

// ============================================================
// Reference responses
// ============================================================

func TestDecodeResponse_Production(t *testing.T) {
	elements := decodeResponseHex(t, hexProductionResponse)
	require.Len(t, elements, 2)

	lifetime := elements[QuantityProdLifetime]
	assert.Equal(t, "1012.557", lifetime.Value.String())
	assert.Equal(t, int64(1012557), lifetime.Raw)
	assert.Equal(t, ShapeLong, lifetime.Shape)
	assert.Equal(t, time.Unix(0x5249853A, 0).UTC(), lifetime.Timestamp)

	assert.Equal(t, "6.847", elements[QuantityProdToday].Value.String())

	info, err := NewProductionInfo(elements)
	require.NoError(t, err)
	assert.Equal(t, NewValue(1012557, 3), info.Lifetime)
	assert.Equal(t, NewValue(6847, 3), info.Today)
	assert.Equal(t, lifetime.Timestamp, info.Timestamp)
}

func TestDecodeResponse_SpotACPower(t *testing.T) {
	elements := decodeResponseHex(t, hexSpotPowerResponse)
	require.Len(t, elements, 1)

	power := elements[QuantitySpotACPower]
	assert.Equal(t, "825", power.Value.String())
	assert.Equal(t, ShapeInt, power.Shape)

	info := NewSpotACInfo(elements)
	assert.True(t, info.HasPower)
	assert.False(t, info.HasFrequency)
	assert.Equal(t, NewValue(825, 0), info.Power)
}

func TestDecodeResponse_SpotACFrequency(t *testing.T) {
	elements := decodeResponseHex(t, hexSpotFreqResponse)
	require.Len(t, elements, 1)

	freq := elements[QuantitySpotACFrequency]
	assert.Equal(t, "49.96", freq.Value.String())
	assert.Equal(t, int64(4996), freq.Raw)
	assert.InDelta(t, 49.96, freq.Value.Float64(), 1e-9)
}

func TestDecodeResponse_SpotACMerged(t *testing.T) {
	elements := decodeResponseHex(t, hexSpotPowerResponse)
	elements.Merge(decodeResponseHex(t, hexSpotFreqResponse))

	info := NewSpotACInfo(elements)
	assert.True(t, info.HasPower)
	assert.True(t, info.HasFrequency)
	assert.Equal(t, "825", info.Power.String())
	assert.Equal(t, "49.96", info.Frequency.String())
}

func TestDecodeResponse_OperationTime(t *testing.T) {
	elements := decodeResponseHex(t, hexOperationResponse)
	require.Len(t, elements, 2)

	op := elements[QuantityOperationTime]
	assert.Equal(t, int64(9894499), op.Raw) // seconds
	assert.Equal(t, "2748.472", op.Value.String())

	feedIn := elements[QuantityOperationFeedInTime]
	assert.Equal(t, int64(9190132), feedIn.Raw)
	assert.Equal(t, "2552.815", feedIn.Value.String())

	info, err := NewOperationInfo(elements)
	require.NoError(t, err)
	assert.Equal(t, "2748.472", info.OperationTime.String())
	assert.Equal(t, "2552.815", info.FeedInTime.String())
}

func TestDecodeResponse_NotData(t *testing.T) {
	_, err := DecodeResponse(decodeSessionHex(t, hexLogOn))
	assert.ErrorIs(t, err, ErrUnrecognizedCommand)
}

// ============================================================
// Synthetic payloads
// ============================================================

func TestDecodeDataResponse_SkipsUnknownQuantities(t *testing.T) {
	payload := responsePayload(
		record(ShapeLong, 0x123456, 1, le64(42)),
		record(ShapeInt, 0x654321, 1, le32(7)),
		record(ShapeInt, QuantitySpotACPower, 2, le32(1500)),
	)

	elements, err := DecodeDataResponse(payload)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "1500", elements[QuantitySpotACPower].Value.String())
}

func TestDecodeDataResponse_UnknownShapeWidth(t *testing.T) {
	for _, shape := range []Shape{ShapeStatus, ShapeText, Shape(0x20)} {
		payload := responsePayload(record(shape, 0x123456, 1, le64(0)))
		_, err := DecodeDataResponse(payload)
		assert.ErrorIs(t, err, ErrDecodeShape, "shape %s", shape)
		assert.True(t, IsDecodeError(err))
	}
}

func TestDecodeDataResponse_LastWriteWins(t *testing.T) {
	payload := responsePayload(
		record(ShapeInt, QuantitySpotACPower, 1, le32(100)),
		record(ShapeInt, QuantitySpotACPower, 2, le32(200)),
	)

	elements, err := DecodeDataResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(200), elements[QuantitySpotACPower].Raw)
	assert.Equal(t, time.Unix(2, 0).UTC(), elements[QuantitySpotACPower].Timestamp)
}

func TestDecodeDataResponse_Truncated(t *testing.T) {
	_, err := DecodeDataResponse([]byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrDecodeShape)

	known := responsePayload(record(ShapeLong, QuantityProdToday, 1, []byte{0x01, 0x02}))
	_, err = DecodeDataResponse(known)
	assert.ErrorIs(t, err, ErrDecodeShape)

	unknown := responsePayload(record(ShapeLong, 0x123456, 1, []byte{0x01, 0x02}))
	_, err = DecodeDataResponse(unknown)
	assert.ErrorIs(t, err, ErrDecodeShape)
}

func TestDecodeDataResponse_TrailingBytesIgnored(t *testing.T) {
	payload := responsePayload(record(ShapeInt, QuantitySpotACPower, 1, le32(5)))
	payload = append(payload, 0x01, 0x00, 0x00, 0x00)

	elements, err := DecodeDataResponse(payload)
	require.NoError(t, err)
	assert.Len(t, elements, 1)

	empty, err := DecodeDataResponse(make([]byte, ResponseHeaderSize))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeDataResponse_NegativeInt(t *testing.T) {
	payload := responsePayload(record(ShapeInt, QuantitySpotACPower, 1, le32(-15)))
	elements, err := DecodeDataResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, "-15", elements[QuantitySpotACPower].Value.String())
}

func TestInfo_MissingQuantities(t *testing.T) {
	_, err := NewProductionInfo(Elements{})
	assert.ErrorIs(t, err, ErrMissingQuantity)

	_, err = NewOperationInfo(Elements{QuantityOperationTime: {}})
	assert.ErrorIs(t, err, ErrMissingQuantity)

	info := NewSpotACInfo(Elements{})
	assert.False(t, info.HasPower)
	assert.Contains(t, info.String(), "n/a")
}

func TestQuantity_Names(t *testing.T) {
	assert.Equal(t, "PROD_TODAY", QuantityProdToday.String())
	assert.Equal(t, "OPERATION_FEEDIN_TIME", QuantityOperationFeedInTime.String())
	assert.Equal(t, "QUANTITY_123456", Quantity(0x123456).String())
	assert.Equal(t, "kWh", QuantityProdLifetime.Unit())
	assert.False(t, Quantity(0x123456).Known())
}

// ============================================================
// Value Tests
// ============================================================

func TestValue_String(t *testing.T) {
	tests := []struct {
		value    Value
		expected string
	}{
		{NewValue(1012557, 3), "1012.557"},
		{NewValue(6847, 3), "6.847"},
		{NewValue(5, 3), "0.005"},
		{NewValue(825, 0), "825"},
		{NewValue(4996, 2), "49.96"},
		{NewValue(0, 2), "0.00"},
		{NewValue(-5, 2), "-0.05"},
		{NewValue(-1234, 1), "-123.4"},
		{NewValue(math.MinInt64, 0), "-9223372036854775808"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.value.String())
	}
}

func TestValue_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]Value{"v": NewValue(4996, 2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v": 49.96}`, string(data))
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, int64(4), ceilDiv(7, 2))
	assert.Equal(t, int64(3), ceilDiv(6, 2))
	assert.Equal(t, int64(-3), ceilDiv(-7, 2))
	assert.Equal(t, int64(2748472), ceilDiv(9894499*1000, 3600))
}

// ============================================================
// Validator and Statistics Tests
// ============================================================

func TestValidateSessionPacket_Captures(t *testing.T) {
	for _, s := range []string{hexLogOff, hexLogOn, hexProductionRequest, hexSpotPowerRequest,
		hexProductionResponse, hexSpotPowerResponse, hexSpotFreqResponse, hexOperationResponse} {
		assert.Empty(t, ValidateSessionPacket(decodeSessionHex(t, s)))
	}
}

func TestValidateSessionPacket_Anomalies(t *testing.T) {
	request := NewDataRequest(clientAddress, inverterAddress, QueryProduction)
	binary.LittleEndian.PutUint32(request.Payload[0:4], 0xFFFFFFFF)
	errs := ValidateSessionPacket(request)
	require.Len(t, errs, 1)
	assert.Equal(t, AnomalyInvalidRange, errs[0].Type)

	logoff := NewLogOff(clientAddress)
	logoff.Payload = nil
	errs = ValidateSessionPacket(logoff)
	require.Len(t, errs, 1)
	assert.Equal(t, AnomalyLengthMismatch, errs[0].Type)

	response := &SessionPacket{
		Command: Command{Opcode: OpcodeDataInt, Group: [3]byte{0x80, 0x01, 0x02}},
		Payload: responsePayload(
			record(ShapeInt, QuantitySpotACPower, 1, le32(math.MinInt32)),
			record(ShapeInt, QuantitySpotACFrequency, 1, le32(1234)),
		),
	}
	errs = ValidateSessionPacket(response)
	require.Len(t, errs, 2)
	assert.Equal(t, AnomalyMissingValue, errs[0].Type)
	assert.Equal(t, AnomalyInvalidValue, errs[1].Type)
}

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	hs, err := ParseLinkPacket(mustHex(t, hexHandshake1))
	require.NoError(t, err)
	s.Update(hs, nil, nil, nil)

	session := decodeSessionHex(t, hexProductionResponse)
	s.Update(session.LinkPacket(), session, nil, ValidateSessionPacket(session))

	_, _, frameErr := DecodeFrame([]byte{0x7E, 0x01, 0x00, 0x00, 0x7E})
	s.Update(nil, nil, frameErr, nil)
	s.Update(nil, nil, ErrFraming, nil)

	assert.Equal(t, uint64(4), s.TotalPackets)
	assert.Equal(t, uint64(2), s.ValidPackets)
	assert.Equal(t, uint64(1), s.Handshakes)
	assert.Equal(t, uint64(1), s.SessionPackets)
	assert.Equal(t, uint64(1), s.ChecksumErrors)
	assert.Equal(t, uint64(1), s.FramingErrors)
	assert.Equal(t, uint64(2), s.Errors())
	assert.Contains(t, s.String(), "FCS Errors")

	s.Reset()
	assert.Zero(t, s.TotalPackets)
}

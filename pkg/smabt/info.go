// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"fmt"
	"time"
)

// ProductionInfo is the energy yield reported by a production query
type ProductionInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Lifetime  Value     `json:"lifetime_kwh"`
	Today     Value     `json:"today_kwh"`
}

// NewProductionInfo extracts the production quantities from elements
func NewProductionInfo(elements Elements) (ProductionInfo, error) {
	lifetime, ok := elements[QuantityProdLifetime]
	if !ok {
		return ProductionInfo{}, fmt.Errorf("%w: %s", ErrMissingQuantity, QuantityProdLifetime)
	}
	today, ok := elements[QuantityProdToday]
	if !ok {
		return ProductionInfo{}, fmt.Errorf("%w: %s", ErrMissingQuantity, QuantityProdToday)
	}
	return ProductionInfo{
		Timestamp: lifetime.Timestamp,
		Lifetime:  lifetime.Value,
		Today:     today.Value,
	}, nil
}

func (p ProductionInfo) String() string {
	return fmt.Sprintf("ProductionInfo [timestamp=%s, lifetime=%s kWh, today=%s kWh]",
		p.Timestamp.Format(time.RFC3339), p.Lifetime, p.Today)
}

// SpotACInfo holds instantaneous AC output. Power and frequency come from
// separate queries, so either may be absent.
type SpotACInfo struct {
	Timestamp    time.Time `json:"timestamp"`
	Power        Value     `json:"power_w"`
	Frequency    Value     `json:"frequency_hz"`
	HasPower     bool      `json:"-"`
	HasFrequency bool      `json:"-"`
}

// NewSpotACInfo extracts whatever spot AC quantities elements contains
func NewSpotACInfo(elements Elements) SpotACInfo {
	var info SpotACInfo
	if e, ok := elements[QuantitySpotACPower]; ok {
		info.Timestamp = e.Timestamp
		info.Power = e.Value
		info.HasPower = true
	}
	if e, ok := elements[QuantitySpotACFrequency]; ok {
		if info.Timestamp.IsZero() {
			info.Timestamp = e.Timestamp
		}
		info.Frequency = e.Value
		info.HasFrequency = true
	}
	return info
}

func (s SpotACInfo) String() string {
	power, frequency := "n/a", "n/a"
	if s.HasPower {
		power = s.Power.String() + " W"
	}
	if s.HasFrequency {
		frequency = s.Frequency.String() + " Hz"
	}
	return fmt.Sprintf("SpotACInfo [timestamp=%s, power=%s, frequency=%s]",
		s.Timestamp.Format(time.RFC3339), power, frequency)
}

// OperationInfo holds the inverter's running hours
type OperationInfo struct {
	Timestamp     time.Time `json:"timestamp"`
	OperationTime Value     `json:"operation_h"`
	FeedInTime    Value     `json:"feedin_h"`
}

// NewOperationInfo extracts the operation counters from elements
func NewOperationInfo(elements Elements) (OperationInfo, error) {
	op, ok := elements[QuantityOperationTime]
	if !ok {
		return OperationInfo{}, fmt.Errorf("%w: %s", ErrMissingQuantity, QuantityOperationTime)
	}
	feedIn, ok := elements[QuantityOperationFeedInTime]
	if !ok {
		return OperationInfo{}, fmt.Errorf("%w: %s", ErrMissingQuantity, QuantityOperationFeedInTime)
	}
	return OperationInfo{
		Timestamp:     op.Timestamp,
		OperationTime: op.Value,
		FeedInTime:    feedIn.Value,
	}, nil
}

func (o OperationInfo) String() string {
	return fmt.Sprintf("OperationInfo [timestamp=%s, operationTime=%s h, feedinTime=%s h]",
		o.Timestamp.Format(time.RFC3339), o.OperationTime, o.FeedInTime)
}

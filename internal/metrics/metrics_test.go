// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/smastat/pkg/smabt"
)

func newTestMetrics() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

func TestObserveErrors(t *testing.T) {
	_, m := newTestMetrics()

	m.ObserveError(fmt.Errorf("%w: bad fcs", smabt.ErrChecksum))
	m.ObserveError(smabt.ErrChecksum)
	m.ObserveError(smabt.ErrFraming)
	m.ObserveError(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("checksum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("framing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("other")))
}

func TestObservePackets(t *testing.T) {
	_, m := newTestMetrics()

	client := smabt.MustParseAddress("001122334455")
	inverter := smabt.MustParseAddress("00802529EC47")
	request := smabt.NewDataRequest(client, inverter, smabt.QueryProduction)

	m.ObserveLink(request.LinkPacket())
	m.ObserveSession(request)
	m.ObserveSession(smabt.NewLogOff(client))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkPackets.WithLabelValues(smabt.LinkL2Packet.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionPackets.WithLabelValues(smabt.KindData.String(), "request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionPackets.WithLabelValues(smabt.KindLogOff.String(), "request")))
}

func TestObserveAnomaliesAndQueries(t *testing.T) {
	_, m := newTestMetrics()

	m.ObserveAnomalies([]smabt.ValidationError{
		{Type: smabt.AnomalyInvalidValue},
		{Type: smabt.AnomalyInvalidValue},
		{Type: smabt.AnomalyMissingValue},
	})
	m.ObserveQuery(smabt.QuerySpotACPower, nil)
	m.ObserveQuery(smabt.QuerySpotACPower, errors.New("timeout"))
	m.ObserveConnect(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("invalid_value")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("missing_value")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("spot_ac_power", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues("spot_ac_power", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connects.WithLabelValues("ok")))
}

func TestObserveElements(t *testing.T) {
	_, m := newTestMetrics()
	ts := time.Date(2013, 5, 1, 12, 0, 0, 0, time.UTC)

	m.ObserveElements(smabt.Elements{
		smabt.QuantitySpotACPower: {
			Quantity:  smabt.QuantitySpotACPower,
			Raw:       825,
			Value:     smabt.NewValue(825, 0),
			Timestamp: ts,
		},
		smabt.QuantitySpotACFrequency: {
			Quantity:  smabt.QuantitySpotACFrequency,
			Raw:       4998,
			Value:     smabt.NewValue(4998, 2),
			Timestamp: ts.Add(-time.Second),
		},
	})

	power := smabt.QuantitySpotACPower
	freq := smabt.QuantitySpotACFrequency
	assert.Equal(t, 825.0, testutil.ToFloat64(m.Values.WithLabelValues(power.String(), power.Unit())))
	assert.InDelta(t, 49.98, testutil.ToFloat64(m.Values.WithLabelValues(freq.String(), freq.Unit())), 1e-9)
	assert.Equal(t, float64(ts.Unix()), testutil.ToFloat64(m.LastUpdate))
}

func TestHandler(t *testing.T) {
	reg, m := newTestMetrics()
	m.ObserveError(smabt.ErrChecksum)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(body, `smastat_decode_errors_total{kind="checksum"} 1`), body)
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

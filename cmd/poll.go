// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/smastat/internal/driver"
	"github.com/Thermoquad/smastat/internal/publish"
	"github.com/Thermoquad/smastat/pkg/backoff"
	"github.com/Thermoquad/smastat/pkg/smabt"
)

var (
	pollQueries []string
	pollJSON    bool
	pollRecord  string
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Log on to the inverter and read its counters once",
	Long: `Open a session with the inverter, run the requested queries and log off.

The session starts with the Bluetooth handshake, then logs on as a user with
the inverter password. Failed connections and failed queries are retried
with a growing back-off, up to session.max_attempts per query.

Queries: production, spot_ac_power, spot_ac_frequency, operation_time
(default: all). When an MQTT broker is configured the values are also
published as retained sensor states.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().StringSliceVarP(&pollQueries, "query", "q", nil, "Queries to run (default all)")
	pollCmd.Flags().BoolVar(&pollJSON, "json", false, "Print values as JSON")
	pollCmd.Flags().StringVar(&pollRecord, "record", "", "Write session traffic to this capture file")
}

// parseQueries maps query names to query types; no names selects every query
func parseQueries(names []string) ([]smabt.QueryType, error) {
	if len(names) == 0 {
		return smabt.QueryTypes, nil
	}
	queries := make([]smabt.QueryType, 0, len(names))
	for _, name := range names {
		q, err := smabt.ParseQueryType(name)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// pollOnce runs queries on client and merges their elements. Queries that
// fail are logged and skipped; the error is returned only if none succeeded.
func pollOnce(ctx context.Context, client *driver.Client, queries []smabt.QueryType) (smabt.Elements, error) {
	elements := smabt.Elements{}
	var lastErr error
	ok := 0
	for _, q := range queries {
		got, err := client.Query(ctx, q)
		if err != nil {
			logger.Error("Query failed", zap.Stringer("query", q), zap.Error(err))
			lastErr = err
			continue
		}
		elements.Merge(got)
		ok++
	}
	if ok == 0 && lastErr != nil {
		return nil, lastErr
	}
	return elements, nil
}

// printElements writes elements as text or as the telemetry JSON document
func printElements(w io.Writer, elements smabt.Elements, asJSON bool) error {
	if asJSON {
		doc, err := publish.Telemetry(elements)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(doc))
		return err
	}
	_, err := fmt.Fprint(w, smabt.FormatElements(elements))
	return err
}

// newDriverOptions builds session options from the loaded config
func newDriverOptions() (driver.Options, error) {
	var opts driver.Options

	clientAddr, err := cfg.ClientAddress()
	if err != nil {
		return opts, err
	}
	if cfg.Inverter.Address != "" {
		inverterAddr, err := cfg.InverterAddress()
		if err != nil {
			return opts, err
		}
		opts.Inverter = inverterAddr
	}
	password, err := InverterPassword(cfg)
	if err != nil {
		return opts, err
	}

	opts.Client = clientAddr
	opts.Password = password
	opts.Pacer = driver.NewPacer(cfg.Session.MinSpacing)
	opts.Timeout = cfg.Session.Timeout
	opts.Logger = logger
	return opts, nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	queries, err := parseQueries(pollQueries)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := newDriverOptions()
	if err != nil {
		return err
	}

	cn, err := newConnector(cfg.Connection)
	if err != nil {
		return err
	}
	stopRecording, err := startRecording(cn, pollRecord)
	if err != nil {
		return err
	}
	defer stopRecording()

	// Metrics cover this poll only
	m := startMetrics(ctx)
	if m != nil {
		opts.Observer = m
	}

	timer, err := backoff.New(cfg.Backoff.Initial, cfg.Backoff.Multiplier, cfg.Backoff.Max, backoff.WithLogger(logger))
	if err != nil {
		return err
	}

	var publisher publish.Publisher
	if cfg.MQTT.Enabled() {
		p, err := publish.Dial(cfg.MQTT, cfg.Session.Timeout, logger)
		if err != nil {
			return fmt.Errorf("connect to MQTT broker: %w", err)
		}
		defer p.Close()
		publisher = p
	}

	logger.Info("Polling inverter", zap.String("connection", cn.Describe()), zap.Stringers("queries", queries))

	client := driver.NewClient(cn.Dialer(), opts, timer, cfg.Session.MaxAttempts)
	defer func() {
		// Log off even if ctx was cancelled
		if err := client.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Log off failed", zap.Error(err))
		}
	}()

	elements, err := pollOnce(ctx, client, queries)
	if err != nil {
		return err
	}

	if m != nil {
		m.ObserveElements(elements)
	}

	if err := printElements(os.Stdout, elements, pollJSON); err != nil {
		return err
	}

	if publisher != nil {
		if err := publisher.PublishElements(client.Inverter(), elements); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	return nil
}

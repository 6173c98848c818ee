// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/smastat/internal/metrics"
	"github.com/Thermoquad/smastat/pkg/smabt"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	monitorRecord string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch inverter traffic and detect malformed packets",
	Long: `Passively decode the traffic on the connection, track errors and show the
latest values the inverter reported.

This command validates each packet and detects:
  - FCS errors, framing errors and unknown commands
  - Payloads with the wrong length and inverted register ranges
  - Implausible spot values (power, grid frequency) and missing readings
  - Statistics and trends (packet rate, error rate, success rate)

By default, only errors are logged. Use --show-all to log valid packets too.

Nothing is sent to the inverter; run poll from another process to generate
traffic. When metrics.addr is configured, counters and the latest values are
exported for Prometheus.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Write received bytes to this capture file")
}

// syncTracker ignores decode errors until the first valid packet, since
// joining a stream mid-packet always produces some
type syncTracker struct {
	synchronized bool
	skipped      int
}

// filter drops events seen before synchronization. It reports whether the
// stream just became synchronized.
func (t *syncTracker) filter(events []streamEvent) ([]streamEvent, bool) {
	if t.synchronized {
		return events, false
	}
	for i, ev := range events {
		if ev.err != nil {
			t.skipped++
			continue
		}
		t.synchronized = true
		return events[i:], true
	}
	return nil, false
}

// observeEvent feeds an event to the Prometheus collectors
func observeEvent(m *metrics.Metrics, ev streamEvent) {
	if m == nil {
		return
	}
	if ev.err != nil {
		m.ObserveError(ev.err)
		return
	}
	m.ObserveLink(ev.link)
	if ev.session != nil {
		m.ObserveSession(ev.session)
		m.ObserveAnomalies(ev.validation)
	}
	if len(ev.elements) > 0 {
		m.ObserveElements(ev.elements)
	}
}

// startMetrics serves metrics when configured; nil otherwise
func startMetrics(ctx context.Context) *metrics.Metrics {
	if cfg.Metrics.Addr == "" {
		return nil
	}
	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, reg, logger); err != nil {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return m
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cn, err := newConnector(cfg.Connection)
	if err != nil {
		return err
	}
	stopRecording, err := startRecording(cn, monitorRecord)
	if err != nil {
		return err
	}
	defer stopRecording()

	conn, err := cn.Open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	m := startMetrics(ctx)

	if useTUI {
		return runTUIMode(ctx, conn, cn.Describe(), m)
	}
	return runTextMode(ctx, conn, cn.Describe(), m)
}

// readChunks copies reads from r to a channel until r fails
func readChunks(r io.Reader, out chan<- []byte, errc chan<- error) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			errc <- err
			return
		}
	}
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(ctx context.Context, conn io.Reader, connInfo string, m *metrics.Metrics) error {
	p := tea.NewProgram(initialModel(connInfo, showAll), tea.WithContext(ctx))

	go func() {
		stream := newPacketStream()
		sync := &syncTracker{}
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			events, justSynced := sync.filter(stream.Feed(buf[:n]))
			if justSynced {
				p.Send(syncMsg{invalidBytes: sync.skipped})
			}
			for _, ev := range events {
				observeEvent(m, ev)
				p.Send(packetMsg{event: ev})
			}
			if err != nil {
				p.Send(connClosedMsg{err: err})
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode prints errors and periodic statistics to stdout
func runTextMode(ctx context.Context, conn io.Reader, connInfo string, m *metrics.Metrics) error {
	fmt.Printf("Smastat - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stream := newPacketStream()
	stats := smabt.NewStatistics()
	sync := &syncTracker{}

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	chunks := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go readChunks(conn, chunks, readErr)

	for {
		select {
		case data := <-chunks:
			events, justSynced := sync.filter(stream.Feed(data))
			if justSynced {
				if sync.skipped > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d decode errors\n\n", sync.skipped)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			for _, ev := range events {
				ev.update(stats)
				observeEvent(m, ev)
				printMonitorEvent(ev)
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return err

		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}

// printMonitorEvent prints an event in text mode
func printMonitorEvent(ev streamEvent) {
	timestamp := time.Now().Format("15:04:05.000")
	switch {
	case ev.err != nil:
		fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, ev.err)
		if len(ev.raw) > 0 {
			fmt.Printf("  Raw: %s\n", smabt.HexDump(ev.raw))
		}
		fmt.Printf("  >>> DECODE FAILED <<<\n\n")

	case len(ev.validation) > 0:
		fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s\n", timestamp, ev.session.Command)
		fmt.Printf("  FCS: \033[1;32mOK\033[0m\n")
		for i, v := range ev.validation {
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m (%s)\n", i+1, v.Message, v.Type)
		}
		fmt.Printf("  >>> PACKET REJECTED <<<\n\n")

	case len(ev.elements) > 0:
		// Values are always shown
		fmt.Printf("[%s] \033[1;32mDATA:\033[0m\n%s\n", timestamp, smabt.FormatElements(ev.elements))

	case showAll:
		fmt.Printf("[%s] %s", timestamp, ev.format())
	}
}

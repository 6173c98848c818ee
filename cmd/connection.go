// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/smastat/internal/config"
	"github.com/Thermoquad/smastat/internal/driver"
	"github.com/Thermoquad/smastat/pkg/capture"
)

// Password environment variables
const (
	PasswordEnv   = "SMASTAT_PASSWORD"
	WSPasswordEnv = "SMASTAT_WS_PASSWORD"
)

// serialReadSlice bounds each blocking serial read so deadline changes are seen
const serialReadSlice = 200 * time.Millisecond

var wsNoSSLVerify bool

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
	// Read deadline in Unix nanoseconds, 0 for none
	deadline atomic.Int64
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	for {
		timeout := serialReadSlice
		if d := s.deadline.Load(); d != 0 {
			remaining := time.Until(time.Unix(0, d))
			if remaining <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timeout = min(timeout, remaining)
		}
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return 0, err
		}

		n, err := s.port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetReadDeadline makes Read fail with os.ErrDeadlineExceeded once t passes.
// A zero t clears the deadline.
func (s *SerialConnection) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		s.deadline.Store(0)
		return nil
	}
	s.deadline.Store(t.UnixNano())
	return nil
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection for byte-level reading
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// Return immediately if connection is known to be closed
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// A failed websocket read is permanent
			w.closed = true
			return 0, err
		}

		// The bridge forwards the RFCOMM stream as binary messages
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = copy(p, w.buf)
		return w.bufOffset, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword reads a password from env, or prompts for it on the terminal
func GetPassword(prompt, env string) (string, error) {
	if pw := os.Getenv(env); pw != "" {
		return pw, nil
	}

	fmt.Fprintf(os.Stderr, "%s: ", prompt)

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && password != "") {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// InverterPassword returns the configured inverter password or asks for it
func InverterPassword(c *config.Config) (string, error) {
	if c.Inverter.Password != "" {
		return c.Inverter.Password, nil
	}
	return GetPassword("Inverter password", PasswordEnv)
}

// connector opens connections described by the connection config. The
// WebSocket password is asked for once and reused on reconnect.
type connector struct {
	cfg        config.ConnectionConfig
	wsPassword string
	recorder   *capture.Writer
}

func newConnector(c config.ConnectionConfig) (*connector, error) {
	cn := &connector{cfg: c}
	if c.URL != "" && c.Username != "" {
		pw, err := GetPassword("WebSocket password", WSPasswordEnv)
		if err != nil {
			return nil, err
		}
		cn.wsPassword = pw
	}
	return cn, nil
}

// Describe returns a one-line description of the transport
func (cn *connector) Describe() string {
	if cn.cfg.URL != "" {
		return fmt.Sprintf("WebSocket: %s", cn.cfg.URL)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", cn.cfg.Port, cn.cfg.Baud)
}

// Open opens either a serial or WebSocket connection, recording its traffic
// when a recorder is set
func (cn *connector) Open(ctx context.Context) (Connection, error) {
	var conn Connection
	var err error
	switch {
	case cn.cfg.URL != "":
		conn, err = OpenWebSocketConnection(ctx, cn.cfg.URL, cn.cfg.Username, cn.wsPassword, wsNoSSLVerify)
	case cn.cfg.Port != "":
		conn, err = OpenSerialConnection(cn.cfg.Port, cn.cfg.Baud)
	default:
		return nil, errors.New("either --port or --url must be specified")
	}
	if err != nil {
		return nil, err
	}

	if cn.recorder != nil {
		return capture.NewTap(conn, cn.recorder), nil
	}
	return conn, nil
}

// Dialer adapts Open for the driver's reconnect loop
func (cn *connector) Dialer() driver.DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		return cn.Open(ctx)
	}
}

// OpenConnection opens a single connection from the loaded config
func OpenConnection(ctx context.Context) (Connection, string, error) {
	cn, err := newConnector(cfg.Connection)
	if err != nil {
		return nil, "", err
	}
	conn, err := cn.Open(ctx)
	if err != nil {
		return nil, "", err
	}
	return conn, cn.Describe(), nil
}

// startRecording points cn at a new capture file. The returned func closes it.
func startRecording(cn *connector, path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	cn.recorder = capture.NewWriter(f)
	logger.Info("Recording traffic", zap.String("file", path))
	return func() {
		if err := f.Close(); err != nil {
			logger.Warn("Error closing capture file", zap.Error(err))
		}
	}, nil
}

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
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/transport"
)

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection carries the byte stream in binary WebSocket messages.
// One message may hold any number of frames or a partial frame.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // set once a read fails

	writeMu sync.Mutex
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port with the given line settings
func OpenSerialConnection(portName string, opts config.PortOptions) (transport.Channel, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (transport.Channel, error) {
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

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("JACKSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

func isWebSocketURL(name string) bool {
	return strings.HasPrefix(name, "ws://") || strings.HasPrefix(name, "wss://")
}

// endpointOpener returns an opener for a serial port name or WebSocket URL.
// The password is asked for once and reused on every reconnect.
func endpointOpener(name string) transport.Opener {
	if !isWebSocketURL(name) {
		port := tuning.Link.Port
		return func(context.Context) (transport.Channel, error) {
			return OpenSerialConnection(name, port)
		}
	}

	var (
		once     sync.Once
		password string
		pwErr    error
	)
	return func(ctx context.Context) (transport.Channel, error) {
		if wsUsername != "" {
			once.Do(func() { password, pwErr = GetPassword() })
			if pwErr != nil {
				return nil, pwErr
			}
		}
		return OpenWebSocketConnection(ctx, name, wsUsername, password, wsNoSSLVerify)
	}
}

// linkEndpoint returns the endpoint selected by --url or --port.
func linkEndpoint() (string, string, error) {
	if wsURL != "" {
		return wsURL, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}
	if portName != "" {
		return portName, fmt.Sprintf("Serial: %s @ %d baud", portName, tuning.Link.Port.BaudRate), nil
	}
	return "", "", fmt.Errorf("either --port or --url must be specified")
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection(ctx context.Context) (transport.Channel, string, error) {
	endpoint, info, err := linkEndpoint()
	if err != nil {
		return nil, "", err
	}
	conn, err := endpointOpener(endpoint)(ctx)
	if err != nil {
		return nil, "", err
	}
	return conn, info, nil
}

// openSession opens a request session on the endpoint selected by flags.
func openSession(ctx context.Context) (*transport.Session, string, error) {
	endpoint, info, err := linkEndpoint()
	if err != nil {
		return nil, "", err
	}
	session := transport.NewSession(endpointOpener(endpoint), sessionOptions()...)
	if err := session.Open(ctx); err != nil {
		return nil, "", err
	}
	return session, info, nil
}

func sessionOptions() []transport.SessionOption {
	if verbose {
		return []transport.SessionOption{transport.WithObserver(transport.LogObserver{})}
	}
	return nil
}

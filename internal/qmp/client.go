// Package qmp implements a minimal QMP (QEMU Machine Protocol) client for
// the device model's out-of-band control channel. Each call opens a fresh
// connection, performs the mandatory capabilities handshake, issues exactly
// one command, and disconnects; no session state survives a call.
package qmp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// ProtocolError reports a handshake or command failure on the control
// channel. It is recoverable: callers fall back or retry, the harness never
// aborts on it.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("qmp: %s: %s", e.Op, e.Detail)
}

// Client issues single-shot commands over a unix stream socket.
type Client struct {
	SocketPath  string
	ReadTimeout time.Duration
}

// NewClient returns a client for the given control socket. The read timeout
// bounds every line read on the connection.
func NewClient(socketPath string) *Client {
	return &Client{
		SocketPath:  socketPath,
		ReadTimeout: 5 * time.Second,
	}
}

type request struct {
	Execute   string         `json:"execute"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type response struct {
	Return json.RawMessage `json:"return,omitempty"`
	Error  *respError      `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
}

type respError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

// SetLink sets the up/down state of the named network attachment. Failures
// are not retried internally; retry policy belongs to the caller.
func (c *Client) SetLink(name string, up bool) error {
	return c.execute("set_link", map[string]any{"name": name, "up": up})
}

func (c *Client) execute(cmd string, args map[string]any) error {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.ReadTimeout)
	if err != nil {
		return &ProtocolError{Op: "connect", Detail: err.Error()}
	}
	defer conn.Close()

	r := bufio.NewReader(conn)

	// The server speaks first: an unsolicited greeting we discard.
	if _, err := c.readLine(conn, r); err != nil {
		return &ProtocolError{Op: "greeting", Detail: err.Error()}
	}

	// No command is honored until capabilities are negotiated.
	if err := c.roundTrip(conn, r, request{Execute: "qmp_capabilities"}); err != nil {
		return err
	}

	return c.roundTrip(conn, r, request{Execute: cmd, Arguments: args})
}

func (c *Client) roundTrip(conn net.Conn, r *bufio.Reader, req request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return &ProtocolError{Op: req.Execute, Detail: err.Error()}
	}
	payload = append(payload, '\n')

	conn.SetWriteDeadline(time.Now().Add(c.ReadTimeout))
	if _, err := conn.Write(payload); err != nil {
		return &ProtocolError{Op: req.Execute, Detail: fmt.Sprintf("write: %v", err)}
	}

	// Async events may interleave with the reply; skip them.
	for {
		line, err := c.readLine(conn, r)
		if err != nil {
			return &ProtocolError{Op: req.Execute, Detail: fmt.Sprintf("read: %v", err)}
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return &ProtocolError{Op: req.Execute, Detail: fmt.Sprintf("bad response %q: %v", string(line), err)}
		}
		if resp.Event != "" {
			continue
		}
		if resp.Error != nil {
			return &ProtocolError{Op: req.Execute, Detail: fmt.Sprintf("%s: %s", resp.Error.Class, resp.Error.Desc)}
		}
		return nil
	}
}

func (c *Client) readLine(conn net.Conn, r *bufio.Reader) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return line, nil
}

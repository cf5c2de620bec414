// Package annactl implements the thin CLI front-end to annad: dial the
// request socket, frame one request, print the response. It holds no
// pipeline logic of its own.
package annactl

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jjgarcianorway/anna/internal/protocol"
)

// DefaultSocketPath matches config.GenerateDefault's socket_path.
const DefaultSocketPath = "/run/annad/annad.sock"

// DefaultDialTimeout bounds connecting to the daemon socket.
const DefaultDialTimeout = 5 * time.Second

// Client is a one-shot Unix-socket RPC client.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

// NewClient builds a Client for socketPath, or DefaultSocketPath if empty.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Client{SocketPath: socketPath, Timeout: DefaultDialTimeout}
}

// Call sends one method/params pair and decodes the result into out (if
// non-nil), returning the daemon's WireError if the response carries one.
func (c *Client) Call(method string, params interface{}, out interface{}) error {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.Timeout)
	if err != nil {
		return fmt.Errorf("annactl: cannot reach annad at %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("annactl: encode params: %w", err)
	}

	req := protocol.Request{ID: uuid.NewString(), Method: method, Params: paramsJSON}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("annactl: encode request: %w", err)
	}

	if err := protocol.WriteFrame(conn, reqJSON); err != nil {
		return fmt.Errorf("annactl: send request: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.Timeout))
	payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("annactl: read response: %w", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("annactl: decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("annactl: decode result: %w", err)
		}
	}
	return nil
}

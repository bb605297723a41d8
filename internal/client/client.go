// Package client sends requests to a running enunu-service over ZeroMQ.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/book-expert/enunu-service/internal/dispatch"
	"github.com/go-zeromq/zmq4"
)

// Client is a request socket connected to one server. The context given to
// Dial bounds every call made through it.
type Client struct {
	socket zmq4.Socket
}

// Dial connects a request socket to endpoint.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	socket := zmq4.NewReq(ctx)

	err := socket.Dial(endpoint)
	if err != nil {
		_ = socket.Close()

		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	return &Client{socket: socket}, nil
}

// Call sends [command, inputPath] and decodes the reply.
func (c *Client) Call(command, inputPath string) (dispatch.Response, error) {
	payload, err := json.Marshal(dispatch.Request{Command: dispatch.Command(command), InputPath: inputPath})
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	reply, err := c.Send(payload)
	if err != nil {
		return dispatch.Response{}, err
	}

	var response dispatch.Response

	err = json.Unmarshal(reply, &response)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("failed to decode response %q: %w", string(reply), err)
	}

	return response, nil
}

// Send writes a raw payload and returns the raw reply.
func (c *Client) Send(payload []byte) ([]byte, error) {
	err := c.socket.Send(zmq4.NewMsg(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	msg, err := c.socket.Recv()
	if err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}

	return msg.Bytes(), nil
}

// Close releases the socket.
func (c *Client) Close() error {
	err := c.socket.Close()
	if err != nil {
		return fmt.Errorf("failed to close request socket: %w", err)
	}

	return nil
}

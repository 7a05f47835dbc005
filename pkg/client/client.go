// Package client implements the forgecache peer client: the side of the wire
// protocol a node (or the control CLI) uses to talk to another node.
//
// Every call dials a fresh connection with an explicit dial timeout, sets
// read/write deadlines around its single request/response exchange, and closes
// the connection. A hung peer therefore costs one bounded call, never an
// indefinitely blocked caller. Transient failures are retried a configurable
// number of times.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/apex/log"

	"github.com/neuralforge/forgecache/pkg/cluster"
	"github.com/neuralforge/forgecache/pkg/protocol"
)

// Default timeouts applied when an Options field is zero.
const (
	DefaultDialTimeout  = 3 * time.Second
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// Options tunes the client. Zero values fall back to the package defaults;
// Retries is the number of additional attempts after the first.
type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Retries      int
}

// Client issues wire-protocol requests to peer nodes.
type Client struct {
	opts Options
}

// New creates a client with the given options.
func New(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Client{opts: opts}
}

// Get asks the peer at addr for a key. The bool result mirrors the wire
// presence flag: false means the key was absent everywhere the peer could see.
func (c *Client) Get(addr, key string) ([]byte, bool, error) {
	resp, err := c.do(addr, &protocol.Request{Type: protocol.ReqGet, Key: key})
	if err != nil {
		return nil, false, err
	}
	if resp.Type != protocol.RespValue {
		return nil, false, fmt.Errorf("unexpected response type %d from %s", resp.Type, addr)
	}
	return resp.Value, resp.Present, nil
}

// Set stores a key on the peer at addr.
func (c *Client) Set(addr, key string, value []byte, ttl time.Duration) error {
	resp, err := c.do(addr, &protocol.Request{Type: protocol.ReqSet, Key: key, Value: value, TTL: ttl})
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespOK {
		return fmt.Errorf("unexpected response type %d from %s", resp.Type, addr)
	}
	return nil
}

// Join advertises a node to the peer at addr. The peer does not send its
// membership table back; bootstrap is one-directional.
func (c *Client) Join(addr string, node cluster.Node) error {
	resp, err := c.do(addr, &protocol.Request{
		Type:     protocol.ReqJoin,
		Host:     node.Host,
		Port:     node.Port,
		Capacity: node.Capacity,
		Load:     node.CurrentLoad,
	})
	if err != nil {
		return err
	}
	if resp.Type != protocol.RespOK {
		return fmt.Errorf("unexpected response type %d from %s", resp.Type, addr)
	}
	return nil
}

// Clear tells the peer at addr to drop its local tiers. The protocol defines
// no response for clear, so the request is written and the connection closed.
func (c *Client) Clear(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, c.opts.DialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return protocol.WriteRequest(conn, &protocol.Request{Type: protocol.ReqClear})
}

// do runs one request/response exchange against addr, retrying on failure.
func (c *Client) do(addr string, req *protocol.Request) (*protocol.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			log.WithField("peer", addr).WithField("attempt", attempt).Debug("retrying request")
		}

		resp, err := c.exchange(addr, req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Type == protocol.RespError {
			return nil, fmt.Errorf("peer %s: %s", addr, resp.Message)
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", addr, c.opts.Retries+1, lastErr)
}

func (c *Client) exchange(addr string, req *protocol.Request) (*protocol.Response, error) {
	conn, err := net.DialTimeout("tcp", addr, c.opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return nil, err
	}
	if err := protocol.WriteRequest(conn, req); err != nil {
		return nil, fmt.Errorf("write to %s: %w", addr, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return nil, err
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", addr, err)
	}
	return resp, nil
}

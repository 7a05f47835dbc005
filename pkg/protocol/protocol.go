// Package protocol implements the binary wire protocol spoken between forgecache nodes.
//
// Every message is a single frame: a 4-byte big-endian length header followed by
// the payload. The payload carries a protocol version byte, a message type byte,
// and the type-specific fields encoded with uvarint length prefixes. Explicit
// framing means a request or response survives TCP coalescing and fragmentation
// intact; a reader never has to guess where one message ends and the next begins.
//
// Requests:
//   - Get{Key}                          -> Value{Present, Data}
//   - Set{Key, Value, TTL}              -> OK
//   - Join{Host, Port, Capacity, Load}  -> OK
//   - Clear{}                           -> no response (fire-and-forget)
//
// Example:
//
//	req := &protocol.Request{Type: protocol.ReqGet, Key: "model:weights"}
//	if err := protocol.WriteRequest(conn, req); err != nil {
//		return err
//	}
//	resp, err := protocol.ReadResponse(conn)
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Version is the current wire protocol version. Readers reject frames carrying
// any other version rather than guessing at their layout.
const Version = 1

const (
	headerSize = 4

	// MaxFrameSize bounds a single framed message. A peer announcing a larger
	// payload is treated as malformed and its connection dropped.
	MaxFrameSize = 64 << 20
)

// RequestType identifies a request variant on the wire.
type RequestType uint8

const (
	ReqGet   RequestType = iota // Get key -> Value response
	ReqSet                      // Set key/value with optional TTL -> OK
	ReqJoin                     // Join advertises a node to a peer -> OK
	ReqClear                    // Clear drops the receiver's local tiers, no response
)

// ResponseType identifies a response variant on the wire.
type ResponseType uint8

const (
	RespOK    ResponseType = iota // Operation succeeded, no payload
	RespValue                     // Carries a value (or explicit absence) for Get
	RespError                     // Carries a server-side error message
)

// Request is a single client-to-server message. Only the fields relevant to
// the Type are encoded: Key/Value/TTL for data operations, the node
// advertisement fields for ReqJoin.
type Request struct {
	Key      string
	Host     string
	Value    []byte
	TTL      time.Duration
	Capacity int64
	Load     int64
	Port     int
	Type     RequestType
}

// Response is a single server-to-client message. For RespValue, Present
// distinguishes an empty value from an absent key.
type Response struct {
	Value   []byte
	Message string
	Type    ResponseType
	Present bool
}

// Marshal converts a Request into its payload bytes (without the frame header).
func (r *Request) Marshal() ([]byte, error) {
	buf := []byte{Version, byte(r.Type)}

	switch r.Type {
	case ReqGet:
		buf = appendBytes(buf, []byte(r.Key))
	case ReqSet:
		buf = appendBytes(buf, []byte(r.Key))
		buf = appendBytes(buf, r.Value)
		// Nanoseconds, so sub-second TTLs survive the trip.
		buf = binary.AppendUvarint(buf, uint64(r.TTL))
	case ReqJoin:
		buf = appendBytes(buf, []byte(r.Host))
		buf = binary.AppendUvarint(buf, uint64(r.Port))
		buf = binary.AppendUvarint(buf, uint64(r.Capacity))
		buf = binary.AppendUvarint(buf, uint64(r.Load))
	case ReqClear:
		// No fields.
	default:
		return nil, fmt.Errorf("unknown request type: %d", r.Type)
	}

	return buf, nil
}

// UnmarshalRequest reconstructs a Request from payload bytes.
func UnmarshalRequest(data []byte) (*Request, error) {
	d := decoder{data: data}

	if v := d.byte("version"); v != Version {
		if d.err != nil {
			return nil, d.err
		}
		return nil, fmt.Errorf("unsupported protocol version: %d", v)
	}

	req := &Request{Type: RequestType(d.byte("request type"))}

	switch req.Type {
	case ReqGet:
		req.Key = string(d.bytes("key"))
	case ReqSet:
		req.Key = string(d.bytes("key"))
		req.Value = d.bytes("value")
		req.TTL = time.Duration(d.uvarint("ttl"))
	case ReqJoin:
		req.Host = string(d.bytes("host"))
		req.Port = int(d.uvarint("port"))
		req.Capacity = int64(d.uvarint("capacity"))
		req.Load = int64(d.uvarint("load"))
	case ReqClear:
		// No fields.
	default:
		return nil, fmt.Errorf("unknown request type: %d", req.Type)
	}

	if d.err != nil {
		return nil, d.err
	}
	return req, nil
}

// Marshal converts a Response into its payload bytes (without the frame header).
func (r *Response) Marshal() ([]byte, error) {
	buf := []byte{Version, byte(r.Type)}

	switch r.Type {
	case RespOK:
		// No fields.
	case RespValue:
		present := byte(0)
		if r.Present {
			present = 1
		}
		buf = append(buf, present)
		buf = appendBytes(buf, r.Value)
	case RespError:
		buf = appendBytes(buf, []byte(r.Message))
	default:
		return nil, fmt.Errorf("unknown response type: %d", r.Type)
	}

	return buf, nil
}

// UnmarshalResponse reconstructs a Response from payload bytes.
func UnmarshalResponse(data []byte) (*Response, error) {
	d := decoder{data: data}

	if v := d.byte("version"); v != Version {
		if d.err != nil {
			return nil, d.err
		}
		return nil, fmt.Errorf("unsupported protocol version: %d", v)
	}

	resp := &Response{Type: ResponseType(d.byte("response type"))}

	switch resp.Type {
	case RespOK:
		// No fields.
	case RespValue:
		resp.Present = d.byte("present flag") == 1
		resp.Value = d.bytes("value")
	case RespError:
		resp.Message = string(d.bytes("error message"))
	default:
		return nil, fmt.Errorf("unknown response type: %d", resp.Type)
	}

	if d.err != nil {
		return nil, d.err
	}
	return resp, nil
}

// WriteRequest frames and writes a request to w.
func WriteRequest(w io.Writer, req *Request) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}
	return writeFrame(w, data)
}

// ReadRequest reads one framed request from r.
func ReadRequest(r io.Reader) (*Request, error) {
	data, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalRequest(data)
}

// WriteResponse frames and writes a response to w.
func WriteResponse(w io.Writer, resp *Response) error {
	data, err := resp.Marshal()
	if err != nil {
		return err
	}
	return writeFrame(w, data)
}

// ReadResponse reads one framed response from r.
func ReadResponse(r io.Reader) (*Response, error) {
	data, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalResponse(data)
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// decoder walks a payload buffer, remembering the first error it hits so call
// sites can decode a whole variant before checking.
type decoder struct {
	err  error
	data []byte
	off  int
}

func (d *decoder) byte(field string) byte {
	if d.err != nil {
		return 0
	}
	if d.off >= len(d.data) {
		d.err = fmt.Errorf("%s truncated", field)
		return 0
	}
	b := d.data[d.off]
	d.off++
	return b
}

func (d *decoder) uvarint(field string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data[d.off:])
	if n <= 0 {
		d.err = fmt.Errorf("invalid %s", field)
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) bytes(field string) []byte {
	length := d.uvarint(field + " length")
	if d.err != nil {
		return nil
	}
	if length > uint64(len(d.data)-d.off) {
		d.err = fmt.Errorf("%s truncated", field)
		return nil
	}
	b := d.data[d.off : d.off+int(length)]
	d.off += int(length)
	return b
}

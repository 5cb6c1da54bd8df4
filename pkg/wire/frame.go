package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame is one message on the wire: a call id (for matching a response to
// its request; push frames carry none and name their watch in the payload),
// the method it addresses, a flag
// distinguishing request/response/error/push, and an opaque gob-encoded
// payload whose concrete type is implied by Method and Kind.
type Frame struct {
	CallID  uint64
	Method  Method
	Kind    FrameKind
	Payload []byte
}

// FrameKind distinguishes the four shapes a Frame can take on the wire.
type FrameKind uint8

const (
	KindRequest FrameKind = iota + 1
	KindResponse
	KindError
	KindPush
)

// EncodePayload gob-encodes v into a payload suitable for Frame.Payload.
// gob, not protobuf codegen, carries the actual struct bytes: the schema in
// schema.proto documents the shape, but turning it into generated Go
// bindings is a build step this repo does not perform (see schema.proto's
// header comment). protowire is still genuinely exercised below, for the
// frame envelope itself.
//
// A nil v encodes to an empty payload. This is how the schema's Empty
// message travels (getRepoInfo and getHeads requests, cancelWatch's
// response); gob itself cannot encode a field-less struct.
func EncodePayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePayload gob-decodes a payload previously produced by EncodePayload
// into v, which must be a pointer to the expected message type. An empty
// payload decodes into nothing (the Empty message); v is left untouched.
func DecodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("wire: decode payload: %w", err)
	}
	return nil
}

// WriteFrame writes f to w as a length-prefixed protowire record: a varint
// call id, a varint (method<<3 | kind), a varint payload length, and the
// payload bytes, all preceded by a varint giving the total record length.
// Using protowire's varint helpers keeps the envelope forward-compatible
// with the IDL in schema.proto without requiring generated message types
// for the envelope itself.
func WriteFrame(w io.Writer, f Frame) error {
	var body []byte
	body = protowire.AppendVarint(body, f.CallID)
	tag := uint64(f.Method)<<3 | uint64(f.Kind)
	body = protowire.AppendVarint(body, tag)
	body = protowire.AppendVarint(body, uint64(len(f.Payload)))
	body = append(body, f.Payload...)

	var out []byte
	out = protowire.AppendVarint(out, uint64(len(body)))
	out = append(out, body...)

	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame previously written by WriteFrame from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	recordLen, err := readVarint(r)
	if err != nil {
		return Frame{}, err
	}

	body := make([]byte, recordLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame body: %w", err)
	}

	callID, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return Frame{}, fmt.Errorf("wire: malformed frame: call id")
	}
	body = body[n:]

	tag, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return Frame{}, fmt.Errorf("wire: malformed frame: tag")
	}
	body = body[n:]

	payloadLen, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return Frame{}, fmt.Errorf("wire: malformed frame: payload length")
	}
	body = body[n:]

	if uint64(len(body)) != payloadLen {
		return Frame{}, fmt.Errorf("wire: malformed frame: payload length mismatch")
	}

	return Frame{
		CallID:  callID,
		Method:  Method(tag >> 3),
		Kind:    FrameKind(tag & 0x7),
		Payload: body,
	}, nil
}

// readVarint reads a single protobuf-style varint one byte at a time, since
// protowire's Consume helpers need the whole buffer up front and a network
// connection only yields bytes as they arrive.
func readVarint(r *bufio.Reader) (uint64, error) {
	var buf []byte
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("wire: read varint: %w", err)
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, fmt.Errorf("wire: malformed varint")
	}
	return v, nil
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Binary type codes on the datagram wire.
const (
	binConfirm = 0x00
	binReply   = 0x01
	binAuth    = 0x02
	binJoin    = 0x03
	binMsg     = 0x04
	binErr     = 0xFE
	binBye     = 0xFF
)

// Minimum datagram lengths per type: type byte + 2-byte ID + the smallest
// possible remaining fields (each string at least one byte plus its NUL).
const (
	minLenAny   = 3
	minLenJoin  = 7
	minLenMsg   = 7
	minLenReply = 8
	minLenAuth  = 9
)

// All multi-byte integers on the datagram wire are little-endian.
var wireOrder = binary.LittleEndian

// EncodeBinary renders a message in the fixed-field datagram layout:
// byte 0 is the type code, bytes 1-2 the message ID (the reference ID for
// Confirm), and variable-length string fields follow NUL-terminated in a
// fixed per-type order.
func EncodeBinary(m Message) ([]byte, error) {
	var buf bytes.Buffer

	switch t := m.(type) {
	case *ConfirmMessage:
		buf.WriteByte(binConfirm)
		writeUint16(&buf, t.RefID)
		return buf.Bytes(), nil
	case *ByeMessage:
		buf.WriteByte(binBye)
		writeUint16(&buf, t.ID)
		return buf.Bytes(), nil
	case *AuthMessage:
		if t.Username == "" || t.DisplayName == "" || t.Secret == "" {
			return nil, fmt.Errorf("encode AUTH: %w", ErrMissingField)
		}
		buf.WriteByte(binAuth)
		writeUint16(&buf, t.ID)
		writeCString(&buf, t.Username)
		writeCString(&buf, t.DisplayName)
		writeCString(&buf, t.Secret)
		return buf.Bytes(), nil
	case *JoinMessage:
		if t.ChannelID == "" || t.DisplayName == "" {
			return nil, fmt.Errorf("encode JOIN: %w", ErrMissingField)
		}
		buf.WriteByte(binJoin)
		writeUint16(&buf, t.ID)
		writeCString(&buf, t.ChannelID)
		writeCString(&buf, t.DisplayName)
		return buf.Bytes(), nil
	case *MsgMessage:
		if t.DisplayName == "" || t.Content == "" {
			return nil, fmt.Errorf("encode MSG: %w", ErrMissingField)
		}
		buf.WriteByte(binMsg)
		writeUint16(&buf, t.ID)
		writeCString(&buf, t.DisplayName)
		writeCString(&buf, t.Content)
		return buf.Bytes(), nil
	case *ErrMessage:
		if t.DisplayName == "" || t.Content == "" {
			return nil, fmt.Errorf("encode ERR: %w", ErrMissingField)
		}
		buf.WriteByte(binErr)
		writeUint16(&buf, t.ID)
		writeCString(&buf, t.DisplayName)
		writeCString(&buf, t.Content)
		return buf.Bytes(), nil
	case *ReplyMessage:
		if t.Content == "" {
			return nil, fmt.Errorf("encode REPLY: %w", ErrMissingField)
		}
		buf.WriteByte(binReply)
		writeUint16(&buf, t.ID)
		if t.Success {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeUint16(&buf, t.RefID)
		writeCString(&buf, t.Content)
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("binary encoding not supported for %s", m.Type())
	}
}

// DecodeBinary parses a datagram payload. Anything too short, with an
// unknown type code, or missing a NUL terminator before the field order
// exhausts the buffer decodes to Unknown; the buffer bound is never
// indexed past.
func DecodeBinary(p []byte) Message {
	if len(p) < minLenAny {
		return &UnknownMessage{}
	}

	id := wireOrder.Uint16(p[1:3])

	switch p[0] {
	case binConfirm:
		return &ConfirmMessage{RefID: id}
	case binBye:
		return &ByeMessage{ID: id}
	case binAuth:
		if len(p) < minLenAuth {
			return &UnknownMessage{}
		}
		username, next, ok := readCString(p, 3)
		if !ok {
			return &UnknownMessage{}
		}
		displayName, next, ok := readCString(p, next)
		if !ok {
			return &UnknownMessage{}
		}
		secret, _, ok := readCString(p, next)
		if !ok {
			return &UnknownMessage{}
		}
		return &AuthMessage{ID: id, Username: username, DisplayName: displayName, Secret: secret}
	case binJoin:
		if len(p) < minLenJoin {
			return &UnknownMessage{}
		}
		channelID, next, ok := readCString(p, 3)
		if !ok {
			return &UnknownMessage{}
		}
		displayName, _, ok := readCString(p, next)
		if !ok {
			return &UnknownMessage{}
		}
		return &JoinMessage{ID: id, ChannelID: channelID, DisplayName: displayName}
	case binMsg, binErr:
		if len(p) < minLenMsg {
			return &UnknownMessage{}
		}
		displayName, next, ok := readCString(p, 3)
		if !ok {
			return &UnknownMessage{}
		}
		content, _, ok := readCString(p, next)
		if !ok {
			return &UnknownMessage{}
		}
		if p[0] == binErr {
			return &ErrMessage{ID: id, DisplayName: displayName, Content: content}
		}
		return &MsgMessage{ID: id, DisplayName: displayName, Content: content}
	case binReply:
		if len(p) < minLenReply {
			return &UnknownMessage{}
		}
		success := p[3] == 1
		refID := wireOrder.Uint16(p[4:6])
		content, _, ok := readCString(p, 6)
		if !ok {
			return &UnknownMessage{}
		}
		return &ReplyMessage{ID: id, Success: success, RefID: refID, Content: content}
	default:
		return &UnknownMessage{}
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	wireOrder.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

// readCString returns the NUL-terminated string starting at off and the
// offset just past its terminator. ok is false when no terminator exists
// before the end of the buffer.
func readCString(p []byte, off int) (s string, next int, ok bool) {
	if off < 0 || off >= len(p) {
		return "", 0, false
	}
	i := bytes.IndexByte(p[off:], 0)
	if i < 0 {
		return "", 0, false
	}
	return string(p[off : off+i]), off + i + 1, true
}

package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// CRLF terminates every frame on the stream transport.
const CRLF = "\r\n"

var (
	ErrMissingField     = errors.New("required message field is empty")
	ErrNotTextEncodable = errors.New("message type has no text encoding")
)

// EncodeText renders a message as one CRLF-terminated protocol line.
// A required field left empty is an error, never a silently short line.
func EncodeText(m Message) ([]byte, error) {
	switch t := m.(type) {
	case *ByeMessage:
		return []byte("BYE" + CRLF), nil
	case *AuthMessage:
		if t.Username == "" || t.DisplayName == "" || t.Secret == "" {
			return nil, fmt.Errorf("encode AUTH: %w", ErrMissingField)
		}
		return []byte("AUTH " + t.Username + " AS " + t.DisplayName + " USING " + t.Secret + CRLF), nil
	case *JoinMessage:
		if t.ChannelID == "" || t.DisplayName == "" {
			return nil, fmt.Errorf("encode JOIN: %w", ErrMissingField)
		}
		return []byte("JOIN " + t.ChannelID + " AS " + t.DisplayName + CRLF), nil
	case *MsgMessage:
		if t.DisplayName == "" || t.Content == "" {
			return nil, fmt.Errorf("encode MSG: %w", ErrMissingField)
		}
		return []byte("MSG FROM " + t.DisplayName + " IS " + t.Content + CRLF), nil
	case *ErrMessage:
		if t.DisplayName == "" || t.Content == "" {
			return nil, fmt.Errorf("encode ERR: %w", ErrMissingField)
		}
		return []byte("ERR FROM " + t.DisplayName + " IS " + t.Content + CRLF), nil
	case *ReplyMessage:
		if t.Content == "" {
			return nil, fmt.Errorf("encode REPLY: %w", ErrMissingField)
		}
		status := "NOK"
		if t.Success {
			status = "OK"
		}
		return []byte("REPLY " + status + " IS " + t.Content + CRLF), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotTextEncodable, m.Type())
	}
}

// DecodeText parses one protocol line (without its CRLF terminator). Any
// structural mismatch yields an UnknownMessage rather than an error: the
// orchestrator decides what to do with garbage, the codec never panics.
func DecodeText(line string) Message {
	parts := strings.Split(line, " ")

	keyword := parts[0]
	if len(parts) > 1 && parts[1] == "FROM" {
		keyword = parts[0] + " " + parts[1]
	}

	switch keyword {
	case "MSG FROM":
		if len(parts) < 5 || parts[3] != "IS" {
			return &UnknownMessage{Raw: line}
		}
		return &MsgMessage{
			DisplayName: parts[2],
			Content:     strings.Join(parts[4:], " "),
		}
	case "ERR FROM":
		if len(parts) < 5 || parts[3] != "IS" {
			return &UnknownMessage{Raw: line}
		}
		return &ErrMessage{
			DisplayName: parts[2],
			Content:     strings.Join(parts[4:], " "),
		}
	case "AUTH":
		if len(parts) != 6 || parts[2] != "AS" || parts[4] != "USING" {
			return &UnknownMessage{Raw: line}
		}
		return &AuthMessage{
			Username:    parts[1],
			DisplayName: parts[3],
			Secret:      parts[5],
		}
	case "JOIN":
		if len(parts) != 4 || parts[2] != "AS" {
			return &UnknownMessage{Raw: line}
		}
		return &JoinMessage{
			ChannelID:   parts[1],
			DisplayName: parts[3],
		}
	case "REPLY":
		if len(parts) < 4 || parts[2] != "IS" {
			return &UnknownMessage{Raw: line}
		}
		if parts[1] != "OK" && parts[1] != "NOK" {
			return &UnknownMessage{Raw: line}
		}
		return &ReplyMessage{
			Success: parts[1] == "OK",
			Content: strings.Join(parts[3:], " "),
		}
	case "BYE":
		if len(parts) != 1 {
			return &UnknownMessage{Raw: line}
		}
		return &ByeMessage{}
	default:
		return &UnknownMessage{Raw: line}
	}
}

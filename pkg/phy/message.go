package phy

import (
	"bytes"
	"errors"
	"fmt"
)

// CP-PHY message header: frame control, payload length, checksum
const (
	MessageHeaderSize = 3
	MaxPayloadSize    = 255
)

// MessageType is the frame control byte of a CP-PHY message
type MessageType uint8

const (
	MsgNop        MessageType = 0 // No operation
	MsgReset      MessageType = 1 // Reset
	MsgSetCfg     MessageType = 2 // Set config
	MsgPbSRD      MessageType = 3 // PROFIBUS SRD request
	MsgPbSRDReply MessageType = 4 // PROFIBUS SRD reply
	MsgPbSDN      MessageType = 5 // PROFIBUS SDN request
	MsgAck        MessageType = 6 // Short ACK
	MsgNack       MessageType = 7 // Short NACK

	msgTypeMax = MsgNack
)

// String returns string representation of MessageType
func (t MessageType) String() string {
	switch t {
	case MsgNop:
		return "NOP"
	case MsgReset:
		return "RESET"
	case MsgSetCfg:
		return "SETCFG"
	case MsgPbSRD:
		return "PB_SRD"
	case MsgPbSRDReply:
		return "PB_SRD_REPLY"
	case MsgPbSDN:
		return "PB_SDN"
	case MsgAck:
		return "ACK"
	case MsgNack:
		return "NACK"
	default:
		return fmt.Sprintf("0x%02X", uint8(t))
	}
}

// Errors
var (
	ErrMessageTooShort = errors.New("cp-phy message too small")
	ErrMessageChecksum = errors.New("cp-phy message checksum mismatch")
	ErrUnknownType     = errors.New("cp-phy unknown frame control")
	ErrPayloadLength   = errors.New("cp-phy invalid payload length")
	ErrPayloadTooLong  = errors.New("cp-phy payload too long")
)

// Message is one CP-PHY protocol unit exchanged with the communication processor
type Message struct {
	Type    MessageType
	Payload []byte
}

// NewMessage creates a message
func NewMessage(t MessageType, payload []byte) *Message {
	return &Message{Type: t, Payload: payload}
}

// messageChecksum computes the checksum over a raw message whose checksum
// byte sits at offset 2 and is excluded from the sum
func messageChecksum(data []byte) byte {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	sum -= int(data[2])
	return byte((sum ^ 0xFF) & 0xFF)
}

// Serialize converts the message to wire format
func (m *Message) Serialize() ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLong
	}
	data := make([]byte, MessageHeaderSize+len(m.Payload))
	data[0] = byte(m.Type)
	data[1] = byte(len(m.Payload))
	copy(data[MessageHeaderSize:], m.Payload)
	data[2] = messageChecksum(data)
	return data, nil
}

// ParseMessage parses wire format data into a Message.
// A NOP carries no header and is accepted as a single byte.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrMessageTooShort
	}
	m := &Message{Type: MessageType(data[0])}
	if m.Type == MsgNop {
		return m, nil
	}
	if len(data) < MessageHeaderSize {
		return nil, ErrMessageTooShort
	}
	if messageChecksum(data) != data[2] {
		return nil, fmt.Errorf("%w: 0x%02X", ErrMessageChecksum, data[2])
	}
	if m.Type > msgTypeMax {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, data[0])
	}
	payload := data[MessageHeaderSize:]
	if len(payload) != int(data[1]) {
		return nil, ErrPayloadLength
	}
	m.Payload = append([]byte(nil), payload...)
	return m, nil
}

// String returns a string representation of the message
func (m *Message) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Message{Type=%s, Payload=[", m.Type))
	for i, b := range m.Payload {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(fmt.Sprintf("0x%02X", b))
	}
	buf.WriteString("]}")
	return buf.String()
}

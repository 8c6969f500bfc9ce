package message

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame so a corrupt or hostile length
// prefix cannot make a peer allocate unbounded memory.
const maxFrameBytes = 1 << 20

// wireMessage is the gob envelope. It mirrors Message field-for-field but
// keeps the "accepted present" flag explicit, since gob happily encodes a
// zero-valued pointer as nil without our help.
type wireMessage struct {
	Kind                   MessageKind
	ProposalNumber         ProposalNumber
	Value                  *string
	SenderID               PeerID
	AcceptedProposalNumber ProposalNumber
	HasAccepted            bool
}

func toWire(m Message) wireMessage {
	return wireMessage{
		Kind:                   m.Kind,
		ProposalNumber:         m.ProposalNumber,
		Value:                  m.Value,
		SenderID:               m.SenderID,
		AcceptedProposalNumber: m.AcceptedProposalNumber,
		HasAccepted:            m.hasAccepted,
	}
}

func fromWire(w wireMessage) Message {
	return Message{
		Kind:                   w.Kind,
		ProposalNumber:         w.ProposalNumber,
		Value:                  w.Value,
		SenderID:               w.SenderID,
		AcceptedProposalNumber: w.AcceptedProposalNumber,
		hasAccepted:            w.HasAccepted,
	}
}

// Encode serializes m into a length-prefixed frame: a 4-byte big-endian
// length followed by a gob-encoded envelope.
func Encode(m Message) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(toWire(m)); err != nil {
		return nil, fmt.Errorf("message: encode: %w", err)
	}
	frame := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(frame[:4], uint32(body.Len()))
	copy(frame[4:], body.Bytes())
	return frame, nil
}

// Decode is the inverse of Encode: decode(encode(m)) == m for every
// Message with every combination of absent/present value and every
// MessageKind. It fails with *MalformedMessage on truncation, an unknown
// kind, or an invalid field combination.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 4 {
		return Message{}, malformed("frame shorter than length prefix", nil)
	}
	n := binary.BigEndian.Uint32(frame[:4])
	if int(n) != len(frame)-4 {
		return Message{}, malformed("length prefix does not match frame size", nil)
	}
	var w wireMessage
	if err := gob.NewDecoder(bytes.NewReader(frame[4:])).Decode(&w); err != nil {
		return Message{}, malformed("gob decode failed", err)
	}
	m := fromWire(w)
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// WriteTo writes m to w as a single length-prefixed frame. It is used by
// the transport session, which owns serializing concurrent senders.
func WriteTo(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrom blocks until a complete frame is available on r and decodes it.
// io.EOF is returned unwrapped so callers can distinguish a clean close
// from a framing failure.
func ReadFrom(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("message: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return Message{}, malformed("frame exceeds maximum size", nil)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("message: read frame body: %w", err)
	}
	var w wireMessage
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&w); err != nil {
		return Message{}, malformed("gob decode failed", err)
	}
	m := fromWire(w)
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

package meshtastic

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// TextCodec is a minimal concrete MessageCodec for the radio vendor's text
// message record. The wire schema is intentionally simple: a one-byte
// message kind, then kind-specific fields, integers big-endian. A text
// record carries packet id, want-ack flag, destination tag (plus node id
// or channel), then the UTF-8 body. Real vendor firmware uses a richer protobuf schema; this
// codec stands in for it behind the same MessageCodec interface so the
// rest of the system never needs to know the difference.
type TextCodec struct{}

const (
	kindText byte = 1
	kindAck  byte = 2
	kindFail byte = 3

	destDirect    byte = 1
	destBroadcast byte = 2
)

var (
	// ErrShortPayload is returned when a payload ends before a required
	// field can be read.
	ErrShortPayload = errors.New("meshtastic: payload too short")
	// ErrUnknownKind is returned for a payload whose leading kind byte
	// isn't one this codec recognizes.
	ErrUnknownKind = errors.New("meshtastic: unknown message kind")
)

// EncodeText builds a kindText payload: kind, packetID, wantAck,
// destination tag (+ node id or channel), then the UTF-8 body.
func (TextCodec) EncodeText(dest Destination, body string, wantAck bool, packetID uint32) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(kindText)
	if err := binary.Write(&buf, binary.BigEndian, packetID); err != nil {
		return nil, fmt.Errorf("meshtastic encode packet id: %w", err)
	}
	if wantAck {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if dest.IsDirect() {
		buf.WriteByte(destDirect)
		if err := binary.Write(&buf, binary.BigEndian, *dest.NodeID); err != nil {
			return nil, fmt.Errorf("meshtastic encode dest node: %w", err)
		}
	} else {
		buf.WriteByte(destBroadcast)
		ch := int32(0)
		if dest.Channel != nil {
			ch = int32(*dest.Channel)
		}
		if err := binary.Write(&buf, binary.BigEndian, ch); err != nil {
			return nil, fmt.Errorf("meshtastic encode dest channel: %w", err)
		}
	}
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// Decode interprets one payload into a *TextEvent, *AckEvent, or
// *FailEvent depending on the leading kind byte.
func (TextCodec) Decode(payload []byte) (any, error) {
	r := bytes.NewReader(payload)
	kind, err := r.ReadByte()
	if err != nil {
		return nil, ErrShortPayload
	}
	switch kind {
	case kindText:
		var packetID uint32
		if err := binary.Read(r, binary.BigEndian, &packetID); err != nil {
			return nil, ErrShortPayload
		}
		var wantAckByte byte
		if wantAckByte, err = r.ReadByte(); err != nil {
			return nil, ErrShortPayload
		}
		_ = wantAckByte // not surfaced on inbound events; only meaningful outbound
		destTag, err := r.ReadByte()
		if err != nil {
			return nil, ErrShortPayload
		}
		ev := &TextEvent{}
		switch destTag {
		case destDirect:
			var node uint32
			if err := binary.Read(r, binary.BigEndian, &node); err != nil {
				return nil, ErrShortPayload
			}
			ev.SourceNodeID = node
			ev.IsDirect = true
		case destBroadcast:
			var ch int32
			if err := binary.Read(r, binary.BigEndian, &ch); err != nil {
				return nil, ErrShortPayload
			}
			chInt := int(ch)
			ev.Channel = &chInt
			ev.IsDirect = false
		default:
			return nil, fmt.Errorf("meshtastic decode: unknown dest tag %d", destTag)
		}
		rest := make([]byte, r.Len())
		if _, err := r.Read(rest); err != nil && len(rest) > 0 {
			return nil, ErrShortPayload
		}
		ev.Content = string(rest)
		return ev, nil
	case kindAck:
		var packetID uint32
		if err := binary.Read(r, binary.BigEndian, &packetID); err != nil {
			return nil, ErrShortPayload
		}
		return &AckEvent{PacketID: packetID}, nil
	case kindFail:
		var packetID uint32
		if err := binary.Read(r, binary.BigEndian, &packetID); err != nil {
			return nil, ErrShortPayload
		}
		return &FailEvent{PacketID: packetID}, nil
	default:
		return nil, ErrUnknownKind
	}
}

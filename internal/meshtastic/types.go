// Package meshtastic models the radio-facing data types and owns the
// serial device I/O: the reader/writer tasks, built on top of
// internal/framer for the wire-level length delimiting and a pluggable,
// opaque MessageCodec for the vendor payload schema.
package meshtastic

import "time"

// TextEvent is a decoded inbound text message, either a direct message to
// this node or a public broadcast on a channel.
type TextEvent struct {
	SourceNodeID uint32
	DestNodeID *uint32
	IsDirect bool
	Channel *int
	Content string
}

// Priority classes for outbound messages, highest first.
type Priority int

const (
	PriorityDirectResponse Priority = iota
	PriorityDirectBroadcast
	PriorityAmbientBroadcast
	priorityCount
)

func (p Priority) String() string {
	switch p {
	case PriorityDirectResponse:
		return "direct_response"
	case PriorityDirectBroadcast:
		return "direct_broadcast"
	case PriorityAmbientBroadcast:
		return "ambient_broadcast"
	default:
		return "unknown"
	}
}

// Destination identifies where an OutgoingMessage is headed: a specific
// node (direct message) or a channel (broadcast).
type Destination struct {
	NodeID *uint32
	Channel *int
}

// IsDirect reports whether this destination targets a specific node.
func (d Destination) IsDirect() bool { return d.NodeID != nil }

// DirectTo builds a direct-message destination.
func DirectTo(nodeID uint32) Destination { return Destination{NodeID: &nodeID} }

// BroadcastOn builds a channel-broadcast destination.
func BroadcastOn(channel int) Destination { return Destination{Channel: &channel} }

// OutgoingMessage is a unit of work handed to the transmit scheduler.
type OutgoingMessage struct {
	Destination Destination
	Body string
	WantAck bool
	Priority Priority
	EnqueueTime time.Time
	NotBefore time.Time // zero value means eligible immediately
	EnqueueSerial uint64 // assigned by the scheduler on admission
	MaxSendAttempts int
}

// AckEvent reports a delivery acknowledgement for a previously sent packet.
type AckEvent struct {
	PacketID uint32
	At time.Time
}

// FailEvent reports a delivery failure for a previously sent packet.
type FailEvent struct {
	PacketID uint32
	At time.Time
}

// MessageCodec encodes/decodes the opaque vendor payload carried inside a
// framer frame. The core never interprets payload bytes beyond this
// interface: the exact schema is an external, vendor-owned concern.
type MessageCodec interface {
	// EncodeText builds a payload requesting the radio transmit body to
	// dest, requesting an ack if wantAck is set, tagged with packetID.
	EncodeText(dest Destination, body string, wantAck bool, packetID uint32) ([]byte, error)
	// Decode interprets one payload and returns the semantic event it
	// represents (a *TextEvent, *AckEvent, or *FailEvent). A payload it
	// cannot interpret returns an error (TextCodec: ErrShortPayload or
	// ErrUnknownKind); Device counts such payloads as malformed and drops
	// them without surfacing the error. A (nil, nil) result is also dropped.
	Decode(payload []byte) (any, error)
}

package phy

import (
	"io"
	"time"
)

// Phy is the layer 1 collaborator used by the FDL transceiver.
// Implementations move raw FDL telegram bytes to and from the bus.
type Phy interface {
	// SendRequestReply transmits a telegram and expects a reply frame
	SendRequestReply(data []byte) error

	// SendNoReply transmits a telegram without expecting a reply
	SendNoReply(data []byte) error

	// Poll returns the raw bytes of one received telegram.
	// A zero timeout does not wait, a negative timeout waits forever.
	// Returns nil, nil if nothing arrived in time.
	Poll(timeout time.Duration) ([]byte, error)

	// Close releases the hardware resources
	Close() error
}

// Port is a byte stream towards the communication processor.
// Serial lines, TCP sockets and QUIC streams all qualify.
type Port interface {
	io.ReadWriteCloser
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent      uint64 // Total bytes sent
	BytesReceived  uint64 // Total bytes received
	MessagesSent   uint64 // CP-PHY messages written
	MessagesRecv   uint64 // CP-PHY messages decoded
	WriteErrors    uint64 // Number of write errors
	ReadErrors     uint64 // Number of read errors
	ChecksumErrors uint64 // Messages dropped for a bad checksum or header
	Dropped        uint64 // Replies discarded (stale or unexpected)
}

// PhyState represents the state of a PHY
type PhyState int

const (
	PhyStateOpen PhyState = iota
	PhyStateClosed
)

// String returns string representation of PhyState
func (s PhyState) String() string {
	switch s {
	case PhyStateOpen:
		return "Open"
	case PhyStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

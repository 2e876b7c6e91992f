package fdl

import "sync/atomic"

// Statistics tracks transceiver-level statistics
type Statistics struct {
	numTxSRD        uint64
	numTxSDN        uint64
	numRx           uint64
	numFiltered     uint64
	numFramingError uint64
	numPhyErrors    uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// TxSRD increments telegrams sent awaiting a reply
func (s *Statistics) TxSRD() {
	atomic.AddUint64(&s.numTxSRD, 1)
}

// TxSDN increments telegrams sent without reply
func (s *Statistics) TxSDN() {
	atomic.AddUint64(&s.numTxSDN, 1)
}

// Rx increments accepted telegrams
func (s *Statistics) Rx() {
	atomic.AddUint64(&s.numRx, 1)
}

// Filtered increments telegrams dropped by the RX filter
func (s *Statistics) Filtered() {
	atomic.AddUint64(&s.numFiltered, 1)
}

// FramingError increments telegrams that failed to parse
func (s *Statistics) FramingError() {
	atomic.AddUint64(&s.numFramingError, 1)
}

// PhyError increments PHY send or poll failures
func (s *Statistics) PhyError() {
	atomic.AddUint64(&s.numPhyErrors, 1)
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	TxSRD         uint64
	TxSDN         uint64
	Rx            uint64
	Filtered      uint64
	FramingErrors uint64
	PhyErrors     uint64
}

// Snapshot returns the current counter values
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		TxSRD:         atomic.LoadUint64(&s.numTxSRD),
		TxSDN:         atomic.LoadUint64(&s.numTxSDN),
		Rx:            atomic.LoadUint64(&s.numRx),
		Filtered:      atomic.LoadUint64(&s.numFiltered),
		FramingErrors: atomic.LoadUint64(&s.numFramingError),
		PhyErrors:     atomic.LoadUint64(&s.numPhyErrors),
	}
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numTxSRD, 0)
	atomic.StoreUint64(&s.numTxSDN, 0)
	atomic.StoreUint64(&s.numRx, 0)
	atomic.StoreUint64(&s.numFiltered, 0)
	atomic.StoreUint64(&s.numFramingError, 0)
	atomic.StoreUint64(&s.numPhyErrors, 0)
}

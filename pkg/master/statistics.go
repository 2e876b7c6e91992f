package master

import "sync/atomic"

// Statistics is a snapshot of master counters
type Statistics struct {
	Ticks              uint64 // Scheduler passes over all slaves
	DataExchanges      uint64 // Successful data exchange transactions
	DataExchangeErrors uint64 // Failed data exchange transactions
	DiagReads          uint64 // Out-of-band diagnosis reads in DataEx
	Reinits            uint64 // Slaves forced back to Init
	GlobalControls     uint64 // Global_Control broadcasts sent
}

type counters struct {
	ticks              atomic.Uint64
	dataExchanges      atomic.Uint64
	dataExchangeErrors atomic.Uint64
	diagReads          atomic.Uint64
	reinits            atomic.Uint64
	globalControls     atomic.Uint64
}

func (c *counters) snapshot() Statistics {
	return Statistics{
		Ticks:              c.ticks.Load(),
		DataExchanges:      c.dataExchanges.Load(),
		DataExchangeErrors: c.dataExchangeErrors.Load(),
		DiagReads:          c.diagReads.Load(),
		Reinits:            c.reinits.Load(),
		GlobalControls:     c.globalControls.Load(),
	}
}

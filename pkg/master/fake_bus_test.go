package master

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"avaneesh/profibus-go/pkg/dp"
	"avaneesh/profibus-go/pkg/fdl"
)

// fakeSlave answers requests the way a healthy DP slave would unless told
// otherwise
type fakeSlave struct {
	addr    uint8
	ident   uint16
	inputs  []byte
	outputs []byte

	offline     bool  // no reply at all
	dxSilent    bool  // no reply to Data_Exchange
	stationType uint8 // FDL status station type
	diagB0      uint8
	diagB1      uint8
	dxReplyFC   uint8 // response FC for Data_Exchange
	dxAsDiag    bool  // answer Data_Exchange with a diagnosis
	dxNoData    bool  // answer Data_Exchange with SD1
	dxVariable  bool  // answer Data_Exchange with SD2 even without inputs
	misaddress  bool  // reply to the wrong destination

	requests []*fdl.Telegram
}

func newFakeSlave(addr uint8, ident uint16, inputs []byte) *fakeSlave {
	return &fakeSlave{addr: addr, ident: ident, inputs: inputs, diagB1: dp.DiagB1One, dxReplyFC: fdl.FCDl}
}

func (s *fakeSlave) handle(req *fdl.Telegram) *fdl.Telegram {
	s.requests = append(s.requests, req)
	if s.offline {
		return nil
	}
	master := req.SA
	if s.misaddress {
		master++
	}

	if len(req.DAE) == 0 {
		switch req.ReqFunc() {
		case fdl.FCFdlStat:
			return fdl.NewNoData(master, s.addr, s.stationType|fdl.FCOk)
		case fdl.FCSrdHi, fdl.FCSrdLo:
			if s.dxSilent {
				return nil
			}
			if s.dxAsDiag {
				return s.diag(master)
			}
			s.outputs = append([]byte(nil), req.DU...)
			if len(s.inputs) == 0 && s.dxReplyFC == fdl.FCDl && !s.dxNoData && !s.dxVariable {
				return fdl.NewShortAck()
			}
			if s.dxNoData || s.dxReplyFC == fdl.FCRs {
				return fdl.NewNoData(master, s.addr, s.dxReplyFC)
			}
			t, _ := fdl.NewVariable(master, s.addr, s.dxReplyFC, nil, nil, s.inputs)
			return t
		}
		return nil
	}

	switch req.DAE[0] {
	case dp.DSAPSlaveDiag:
		return s.diag(master)
	case dp.DSAPSetPrm, dp.DSAPChkCfg:
		return fdl.NewShortAck()
	case dp.DSAPGetCfg:
		t, _ := fdl.NewVariable(master, s.addr, fdl.FCDl, []byte{dp.SSAPMS0}, []byte{dp.DSAPGetCfg}, []byte{0xC1, 0x05, 0x15, 0x00})
		return t
	}
	return nil
}

func (s *fakeSlave) diag(master uint8) *fdl.Telegram {
	du := []byte{s.diagB0, s.diagB1, 0, master, byte(s.ident >> 8), byte(s.ident)}
	t, _ := fdl.NewVariable(master, s.addr, fdl.FCDl, []byte{dp.SSAPMS0}, []byte{dp.DSAPSlaveDiag}, du)
	return t
}

func (s *fakeSlave) countDAE(sap uint8) int {
	n := 0
	for _, r := range s.requests {
		if len(r.DAE) > 0 && r.DAE[0] == sap {
			n++
		}
	}
	return n
}

// fakeBus implements phy.Phy and routes requests to fake slaves
type fakeBus struct {
	mu      sync.Mutex
	slaves  map[uint8]*fakeSlave
	pending [][]byte
	sdn     []*fdl.Telegram
	sendErr error
	closed  bool

	diagErr      error // PHY error for Slave_Diag requests only
	diagAttempts int
}

func newFakeBus(slaves ...*fakeSlave) *fakeBus {
	b := &fakeBus{slaves: make(map[uint8]*fakeSlave)}
	for _, s := range slaves {
		b.slaves[s.addr] = s
	}
	return b
}

func (b *fakeBus) SendRequestReply(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	req, err := fdl.Parse(data)
	if err != nil {
		return err
	}
	if len(req.DAE) > 0 && req.DAE[0] == dp.DSAPSlaveDiag {
		b.diagAttempts++
		if b.diagErr != nil {
			return b.diagErr
		}
	}
	if s := b.slaves[req.DA]; s != nil {
		if reply := s.handle(req); reply != nil {
			raw, err := reply.Serialize()
			if err != nil {
				return err
			}
			b.pending = append(b.pending, raw)
		}
	}
	return nil
}

func (b *fakeBus) SendNoReply(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	req, err := fdl.Parse(data)
	if err != nil {
		return err
	}
	b.sdn = append(b.sdn, req)
	return nil
}

func (b *fakeBus) Poll(timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("closed")
	}
	if len(b.pending) == 0 {
		return nil, nil
	}
	r := b.pending[0]
	b.pending = b.pending[1:]
	return r, nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

const testMasterAddr = 2

func newTestMaster(t *testing.T, bus *fakeBus) (*Master, *fakeClock) {
	t.Helper()
	config := DefaultConfig()
	config.ID = "test"
	config.MasterAddr = testMasterAddr
	config.ReplyTimeout = time.Millisecond
	config.StatusProbeLimit = 50 * time.Millisecond
	config.StatusProbeInterval = time.Millisecond
	config.DiagLimit = 20 * time.Millisecond
	config.FinalDiagLimit = 20 * time.Millisecond

	m, err := New(config, bus, nil)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m.now = clock.now
	return m, clock
}

func addTestSlave(t *testing.T, m *Master, addr uint8, inSize, outSize int) *SlaveDesc {
	t.Helper()
	s, err := NewSlaveDesc(0x817A, addr, inSize, outSize)
	require.NoError(t, err)
	require.NoError(t, m.AddSlave(s))
	return s
}

package master

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/profibus-go/pkg/dp"
	"avaneesh/profibus-go/pkg/fdl"
	"avaneesh/profibus-go/pkg/internal/logger"
	"avaneesh/profibus-go/pkg/phy"
)

var (
	ErrClosed         = errors.New("master is closed")
	ErrUnknownSlave   = errors.New("unknown slave")
	ErrDuplicateSlave = errors.New("slave address already registered")
)

// TickHandler is called after every scheduler pass
type TickHandler func(slaves []*SlaveDesc)

// Master is a PROFIBUS DP master
type Master struct {
	config Config
	logger logger.Logger

	phy      phy.Phy
	fdlTrans *fdl.Transceiver
	dpTrans  *dp.Transceiver

	// Slaves
	slaves   map[uint8]*SlaveDesc
	slavesMu sync.RWMutex

	// One bus transaction at a time
	busMu sync.Mutex

	tickHandlers []TickHandler
	handlersMu   sync.RWMutex

	stats  counters
	closed atomic.Bool

	now func() time.Time
}

// New creates a master on top of p
func New(config Config, p phy.Phy, log logger.Logger) (*Master, error) {
	if p == nil {
		return nil, fmt.Errorf("phy is required")
	}
	config = config.withDefaults()
	if config.MasterAddr > dp.MaxSourceAddr {
		return nil, dp.Errorf("invalid master address %d", config.MasterAddr)
	}
	log = logger.OrNoOp(log)

	fdlTrans := fdl.NewTransceiver(p, log)
	m := &Master{
		config:   config,
		logger:   log,
		phy:      p,
		fdlTrans: fdlTrans,
		dpTrans:  dp.NewTransceiver(fdlTrans, log),
		slaves:   make(map[uint8]*SlaveDesc),
		now:      time.Now,
	}

	m.logger.Info("Master %s created: class=%s, address=%d", config.ID, config.Class, config.MasterAddr)
	return m, nil
}

// NewDPM1 creates a class 1 master with default timings
func NewDPM1(p phy.Phy, masterAddr uint8, log logger.Logger) (*Master, error) {
	config := DefaultConfig()
	config.Class = DPM1
	config.MasterAddr = masterAddr
	return New(config, p, log)
}

// NewDPM2 creates a class 2 master with default timings
func NewDPM2(p phy.Phy, masterAddr uint8, log logger.Logger) (*Master, error) {
	config := DefaultConfig()
	config.Class = DPM2
	config.MasterAddr = masterAddr
	return New(config, p, log)
}

// Config returns the master configuration
func (m *Master) Config() Config {
	return m.config
}

// AddSlave registers a slave descriptor
func (m *Master) AddSlave(s *SlaveDesc) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if s.SlaveAddr == m.config.MasterAddr {
		return dp.Errorf("slave address %d equals the master address", s.SlaveAddr)
	}

	m.slavesMu.Lock()
	defer m.slavesMu.Unlock()
	if _, exists := m.slaves[s.SlaveAddr]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateSlave, s.SlaveAddr)
	}
	m.slaves[s.SlaveAddr] = s
	m.logger.Info("Master %s: added %s", m.config.ID, s)
	return nil
}

// Slave returns the registered slave at addr, or nil
func (m *Master) Slave(addr uint8) *SlaveDesc {
	m.slavesMu.RLock()
	defer m.slavesMu.RUnlock()
	return m.slaves[addr]
}

// Slaves returns the registered slaves sorted by address
func (m *Master) Slaves() []*SlaveDesc {
	m.slavesMu.RLock()
	defer m.slavesMu.RUnlock()
	list := make([]*SlaveDesc, 0, len(m.slaves))
	for _, s := range m.slaves {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SlaveAddr < list[j].SlaveAddr })
	return list
}

func (m *Master) lookup(addr uint8) (*SlaveDesc, error) {
	if s := m.Slave(addr); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownSlave, addr)
}

// Initialize arms the receive filter for the master address and the
// broadcast address and puts every slave back into Init
func (m *Master) Initialize() error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.fdlTrans.SetRXFilter([]uint8{m.config.MasterAddr, fdl.AddressBroadcast})

	m.busMu.Lock()
	defer m.busMu.Unlock()
	for _, s := range m.Slaves() {
		s.state.reset()
		s.parameterised.Store(false)
		s.fcb.Reset()
	}
	m.logger.Info("Master %s initialized", m.config.ID)
	return nil
}

// OnTick registers a handler called after every RunAllSlaves pass
func (m *Master) OnTick(h TickHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.tickHandlers = append(m.tickHandlers, h)
}

// RunAllSlaves advances the state machine of every slave once, in
// address order
func (m *Master) RunAllSlaves() error {
	if m.closed.Load() {
		return ErrClosed
	}
	slaves := m.Slaves()

	m.busMu.Lock()
	for _, s := range slaves {
		m.runSlave(s)
	}
	m.busMu.Unlock()
	m.stats.ticks.Add(1)

	m.handlersMu.RLock()
	handlers := m.tickHandlers
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(slaves)
	}
	return nil
}

// Run drives RunAllSlaves every interval until ctx is done
func (m *Master) Run(ctx context.Context, interval time.Duration) error {
	m.logger.Info("Master %s: scheduler running every %s", m.config.ID, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.RunAllSlaves(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			m.logger.Info("Master %s: scheduler stopped", m.config.ID)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DataExchange performs one synchronous Data_Exchange with the slave at da.
// It returns the input data, or nil when the slave did not answer.
func (m *Master) DataExchange(da uint8, outData []byte) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	s, err := m.lookup(da)
	if err != nil {
		return nil, err
	}
	m.busMu.Lock()
	defer m.busMu.Unlock()
	in, _, err := m.dataExchange(s, outData)
	return in, err
}

// dataExchange runs one Data_Exchange transaction. diagRequested reports a
// high priority reply.
func (m *Master) dataExchange(s *SlaveDesc, outData []byte) (in []byte, diagRequested bool, err error) {
	req, err := dp.NewDataExchangeReq(s.SlaveAddr, m.config.MasterAddr, outData)
	if err != nil {
		return nil, false, err
	}
	ok, reply, err := m.dpTrans.SendSync(s.fcb, req, m.config.ReplyTimeout)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	switch r := reply.(type) {
	case *dp.DataExchangeCon:
		if resFunc(&r.Header) == fdl.FCRs {
			return nil, false, dp.Errorf("slave %d: Data_Exchange service not activated", s.SlaveAddr)
		}
		return r.DU, r.DiagRequested(), nil
	case *dp.FdlReply:
		// Slaves without inputs acknowledge with SC
		if r.IsShortAck() {
			return []byte{}, false, nil
		}
		if !r.Fdl.IsRequest() && r.Fdl.ResFunc() == fdl.FCRs {
			return nil, false, dp.Errorf("slave %d: Data_Exchange service not activated", s.SlaveAddr)
		}
	}
	return nil, false, dp.Errorf("slave %d: Data_Exchange.req reply is not a Data_Exchange.con: %s", s.SlaveAddr, reply)
}

// resFunc returns the response function code of a reply header
func resFunc(h *dp.Header) uint8 {
	return h.FC & fdl.FCResFuncMask
}

// ReadDiag reads the diagnosis of the slave at da
func (m *Master) ReadDiag(da uint8) (*dp.SlaveDiagCon, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	s, err := m.lookup(da)
	if err != nil {
		return nil, err
	}
	m.busMu.Lock()
	defer m.busMu.Unlock()

	ok, reply, err := m.requestDiag(s, m.config.ReplyTimeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dp.Errorf("no Slave_Diag reply from slave %d", da)
	}
	diag, isDiag := reply.(*dp.SlaveDiagCon)
	if !isDiag {
		return nil, dp.Errorf("slave %d: Slave_Diag.req reply is not a Slave_Diag.con: %s", da, reply)
	}
	return diag, nil
}

// ReadConfig reads the real configuration of the slave at da
func (m *Master) ReadConfig(da uint8) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	s, err := m.lookup(da)
	if err != nil {
		return nil, err
	}
	req, err := dp.NewGetCfgReq(da, m.config.MasterAddr)
	if err != nil {
		return nil, err
	}

	m.busMu.Lock()
	defer m.busMu.Unlock()
	ok, reply, err := m.dpTrans.SendSync(s.fcb, req, m.config.ReplyTimeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dp.Errorf("no Get_Cfg reply from slave %d", da)
	}
	con, isCfg := reply.(*dp.GetCfgCon)
	if !isCfg {
		return nil, dp.Errorf("slave %d: Get_Cfg.req reply is not a Get_Cfg.con: %s", da, reply)
	}
	return con.CfgData, nil
}

func (m *Master) requestDiag(s *SlaveDesc, timeout time.Duration) (bool, dp.Telegram, error) {
	req, err := dp.NewSlaveDiagReq(s.SlaveAddr, m.config.MasterAddr)
	if err != nil {
		return false, nil, err
	}
	return m.dpTrans.SendSync(s.fcb, req, timeout)
}

// Statistics returns the master counters
func (m *Master) Statistics() Statistics {
	return m.stats.snapshot()
}

// FdlStatistics returns the transceiver counters
func (m *Master) FdlStatistics() fdl.Snapshot {
	return m.fdlTrans.Statistics()
}

// Close releases the PHY
func (m *Master) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("Master %s shutting down", m.config.ID)

	m.busMu.Lock()
	defer m.busMu.Unlock()
	return m.phy.Close()
}

// String returns string representation
func (m *Master) String() string {
	return fmt.Sprintf("Master{ID=%s, Class=%s, Addr=%d}", m.config.ID, m.config.Class, m.config.MasterAddr)
}

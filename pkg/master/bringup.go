package master

import (
	"time"

	"avaneesh/profibus-go/pkg/dp"
	"avaneesh/profibus-go/pkg/fdl"
)

// InitializeSlave runs the blocking bring-up of the slave at da: FDL status
// probe, diagnosis, Set_Prm, Chk_Cfg and a final diagnosis. On success the
// slave is parameterised and continues in DataEx when the scheduler runs.
func (m *Master) InitializeSlave(da uint8) error {
	if m.closed.Load() {
		return ErrClosed
	}
	s, err := m.lookup(da)
	if err != nil {
		return err
	}

	m.busMu.Lock()
	defer m.busMu.Unlock()

	m.logger.Info("Master %s: initializing slave %d", m.config.ID, da)
	s.parameterised.Store(false)
	s.state.reset()
	s.fcb.Reset()
	s.fcb.Enable(false)

	if err := m.probeStatus(s); err != nil {
		return err
	}

	s.fcb.Enable(true)

	if !m.pollDiag(s, m.config.DiagLimit) {
		return dp.Errorf("timeout in early Slave_Diag request to slave %d", da)
	}

	if err := s.setPrm.SetSA(m.config.MasterAddr); err != nil {
		return err
	}
	ok, reply, err := m.dpTrans.SendSync(s.fcb, s.setPrm, m.config.PrmCfgTimeout)
	if err != nil || !ok || !isPositiveAck(reply) {
		return dp.Errorf("Set_Prm request to slave %d failed", da)
	}

	if err := s.chkCfg.SetSA(m.config.MasterAddr); err != nil {
		return err
	}
	ok, reply, err = m.dpTrans.SendSync(s.fcb, s.chkCfg, m.config.PrmCfgTimeout)
	if err != nil || !ok || !isPositiveAck(reply) {
		return dp.Errorf("Chk_Cfg request to slave %d failed", da)
	}

	if !m.pollDiag(s, m.config.FinalDiagLimit) {
		return dp.Errorf("timeout in final Slave_Diag request to slave %d", da)
	}

	s.state.force(StateDataEx)
	s.parameterised.Store(true)
	m.logger.Info("Master %s: slave %d initialized", m.config.ID, da)
	return nil
}

// InitializeSlaves runs InitializeSlave for every registered slave in
// address order and stops at the first failure
func (m *Master) InitializeSlaves() error {
	for _, s := range m.Slaves() {
		if err := m.InitializeSlave(s.SlaveAddr); err != nil {
			return err
		}
	}
	return nil
}

// probeStatus requests the FDL status until a slave answers or the probe
// limit expires
func (m *Master) probeStatus(s *SlaveDesc) error {
	da := s.SlaveAddr
	req := fdl.NewFdlStatReq(da, m.config.MasterAddr)
	limit := m.now().Add(m.config.StatusProbeLimit)

	for m.now().Before(limit) {
		ok, reply, err := m.fdlTrans.SendSync(s.fcb, req, m.config.StatusProbeInterval)
		if err != nil {
			if fdl.IsFramingError(err) {
				return dp.Errorf("FDL error in early FDL status request to slave %d: %w", da, err)
			}
			return err
		}
		if ok && reply.HasDestination() {
			if reply.IsRequest() {
				return dp.Errorf("slave %d replied with request bit set", da)
			}
			if stype := reply.StationType(); stype != fdl.FCSlave {
				return dp.Errorf("device %d is not a slave, detected type 0x%02X", da, stype)
			}
			return nil
		}
		time.Sleep(m.config.StatusProbeInterval)
	}
	return dp.Errorf("timeout in early FDL status request to slave %d", da)
}

// pollDiag repeats Slave_Diag requests until one is answered or limit
// expires
func (m *Master) pollDiag(s *SlaveDesc, limit time.Duration) bool {
	deadline := m.now().Add(limit)
	for m.now().Before(deadline) {
		ok, reply, err := m.requestDiag(s, m.config.StatusProbeInterval)
		if err == nil && ok && reply != nil {
			return true
		}
		time.Sleep(m.config.StatusProbeInterval)
	}
	return false
}

package master

import (
	"avaneesh/profibus-go/pkg/dp"
	"avaneesh/profibus-go/pkg/fdl"
)

// runSlave advances the state machine of one slave by one tick.
// The staged state is committed first; entry actions run when the commit
// entered a new state.
func (m *Master) runSlave(s *SlaveDesc) {
	st := &s.state
	st.Commit()
	if st.Changed() {
		m.logger.Debug("Master %s: slave %d entered %s", m.config.ID, s.SlaveAddr, st.Current())
	}

	switch st.Current() {
	case StateInit:
		m.stepInit(s)
	case StateWaitDiag:
		m.stepWaitDiag(s)
	case StateWaitPrm:
		m.stepWaitPrm(s)
	case StateWaitCfg:
		m.stepWaitCfg(s)
	case StateWaitDxReady:
		m.stepWaitDxReady(s)
	case StateDataEx:
		m.stepDataEx(s)
	default:
		m.logger.Error("Master %s: slave %d in invalid state %s", m.config.ID, s.SlaveAddr, st.Current())
		st.SetNext(StateInit)
	}
}

// sendSyncDP sends a DP request and maps framing and PHY errors to "no
// reply" so the state machine can retry
func (m *Master) sendSyncDP(s *SlaveDesc, req dp.Telegram) (bool, dp.Telegram) {
	ok, reply, err := m.dpTrans.SendSync(s.fcb, req, m.config.ReplyTimeout)
	if err != nil {
		m.logger.Debug("Master %s: slave %d: %v", m.config.ID, s.SlaveAddr, err)
		return false, nil
	}
	return ok, reply
}

func (m *Master) stepInit(s *SlaveDesc) {
	st := &s.state
	if st.Changed() {
		s.parameterised.Store(false)
		st.dataValid = false
		s.fcb.Reset()
		s.fcb.Enable(true)
	}

	// The status request is repeated on every tick spent in Init
	req := fdl.NewFdlStatReq(s.SlaveAddr, m.config.MasterAddr)
	ok, reply, err := m.fdlTrans.SendSync(s.fcb, req, m.config.ReplyTimeout)
	if err != nil {
		m.logger.Debug("Master %s: slave %d FDL status: %v", m.config.ID, s.SlaveAddr, err)
		return
	}
	if ok && reply.HasDestination() && !reply.IsRequest() && reply.StationType() == fdl.FCSlave {
		st.SetNext(StateWaitDiag)
	}
}

func (m *Master) stepWaitDiag(s *SlaveDesc) {
	st := &s.state
	req, err := dp.NewSlaveDiagReq(s.SlaveAddr, m.config.MasterAddr)
	if err != nil {
		st.SetNext(StateInit)
		return
	}
	if ok, _ := m.sendSyncDP(s, req); ok {
		st.SetNext(StateWaitPrm)
	} else {
		st.SetNext(StateInit)
	}
}

func (m *Master) stepWaitPrm(s *SlaveDesc) {
	st := &s.state
	if err := s.setPrm.SetSA(m.config.MasterAddr); err != nil {
		st.SetNext(StateInit)
		return
	}
	if ok, reply := m.sendSyncDP(s, s.setPrm); ok && isPositiveAck(reply) {
		st.SetNext(StateWaitCfg)
	} else {
		m.logger.Warn("Master %s: Set_Prm to slave %d failed", m.config.ID, s.SlaveAddr)
		st.SetNext(StateInit)
	}
}

func (m *Master) stepWaitCfg(s *SlaveDesc) {
	st := &s.state
	if err := s.chkCfg.SetSA(m.config.MasterAddr); err != nil {
		st.SetNext(StateInit)
		return
	}
	if ok, reply := m.sendSyncDP(s, s.chkCfg); ok && isPositiveAck(reply) {
		st.SetNext(StateWaitDxReady)
	} else {
		m.logger.Warn("Master %s: Chk_Cfg to slave %d failed", m.config.ID, s.SlaveAddr)
		st.SetNext(StateInit)
	}
}

func (m *Master) stepWaitDxReady(s *SlaveDesc) {
	st := &s.state
	if st.Changed() {
		st.deadline = m.now().Add(m.config.DxReadyTimeout)
	}
	expired := !m.now().Before(st.deadline)

	// The diagnosis request is repeated on every tick spent in WaitDxReady
	req, err := dp.NewSlaveDiagReq(s.SlaveAddr, m.config.MasterAddr)
	if err != nil {
		st.SetNext(StateInit)
		return
	}
	ok, reply := m.sendSyncDP(s, req)
	if ok {
		if diag, isDiag := reply.(*dp.SlaveDiagCon); isDiag {
			if diag.IsReadyDataEx() {
				st.SetNext(StateDataEx)
				return
			}
			if diag.NeedsNewPrmCfg() {
				st.SetNext(StateInit)
				return
			}
		}
	}
	if expired {
		m.logger.Warn("Master %s: slave %d not ready for data exchange in time", m.config.ID, s.SlaveAddr)
		st.SetNext(StateInit)
	}
}

func (m *Master) stepDataEx(s *SlaveDesc) {
	st := &s.state
	if st.Changed() {
		st.retries = 0
		s.parameterised.Store(true)
		m.logger.Info("Master %s: slave %d entered data exchange", m.config.ID, s.SlaveAddr)
	}

	in, diagRequested, err := m.dataExchange(s, s.Outputs())
	if err == nil && in != nil {
		st.dataValid = true
		st.retries = 0
		m.stats.dataExchanges.Add(1)
	} else {
		if err != nil {
			m.logger.Debug("Master %s: slave %d data exchange: %v", m.config.ID, s.SlaveAddr, err)
		}
		st.dataValid = false
		st.retries++
		in = nil
		m.stats.dataExchangeErrors.Add(1)
	}
	s.writeInputs(in, st.dataValid)

	switch {
	case st.retries > m.config.ReinitRetries:
		m.logger.Warn("Master %s: communication with slave %d lost", m.config.ID, s.SlaveAddr)
		m.reinit(s)
	case st.retries > m.config.DiagRetries || diagRequested:
		m.stats.diagReads.Add(1)
		ok, reply := m.diagOutOfBand(s)
		if !ok {
			return
		}
		if diag, isDiag := reply.(*dp.SlaveDiagCon); isDiag && diag.NeedsNewPrmCfg() {
			m.logger.Warn("Master %s: slave %d requests new parameters", m.config.ID, s.SlaveAddr)
			m.reinit(s)
		}
	}
}

func (m *Master) diagOutOfBand(s *SlaveDesc) (bool, dp.Telegram) {
	req, err := dp.NewSlaveDiagReq(s.SlaveAddr, m.config.MasterAddr)
	if err != nil {
		return false, nil
	}
	return m.sendSyncDP(s, req)
}

func (m *Master) reinit(s *SlaveDesc) {
	s.state.SetNext(StateInit)
	m.stats.reinits.Add(1)
}

// isPositiveAck reports whether a Set_Prm or Chk_Cfg reply acknowledges
// the request
func isPositiveAck(reply dp.Telegram) bool {
	r, ok := reply.(*dp.FdlReply)
	if !ok {
		return false
	}
	if r.IsShortAck() {
		return true
	}
	return r.Fdl.HasDestination() && !r.Fdl.IsRequest() && r.Fdl.ResFunc() == fdl.FCOk
}

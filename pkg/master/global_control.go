package master

import (
	"avaneesh/profibus-go/pkg/dp"
)

// SyncMode freezes the outputs of the selected groups (0 = all slaves)
func (m *Master) SyncMode(groupMask uint8) error {
	return m.globalControl(dp.GCSync, groupMask)
}

// SyncModeCancel releases sync mode
func (m *Master) SyncModeCancel(groupMask uint8) error {
	return m.globalControl(dp.GCUnsync, groupMask)
}

// FreezeMode freezes the inputs of the selected groups (0 = all slaves)
func (m *Master) FreezeMode(groupMask uint8) error {
	return m.globalControl(dp.GCFreeze, groupMask)
}

// FreezeModeCancel releases freeze mode
func (m *Master) FreezeModeCancel(groupMask uint8) error {
	return m.globalControl(dp.GCUnfreeze, groupMask)
}

// ClearData tells the selected groups to switch their outputs to the safe
// state
func (m *Master) ClearData(groupMask uint8) error {
	return m.globalControl(dp.GCClear, groupMask)
}

// globalControl broadcasts a Global_Control telegram without reply
func (m *Master) globalControl(command, groupMask uint8) error {
	if m.closed.Load() {
		return ErrClosed
	}
	gc, err := dp.NewGlobalControl(m.config.MasterAddr, command, groupMask)
	if err != nil {
		return err
	}

	m.busMu.Lock()
	defer m.busMu.Unlock()
	if err := m.dpTrans.Send(nil, gc); err != nil {
		return dp.Errorf("Global_Control 0x%02X to group 0x%02X failed: %w", command, groupMask, err)
	}
	m.stats.globalControls.Add(1)
	m.logger.Debug("Master %s: Global_Control 0x%02X group 0x%02X", m.config.ID, command, groupMask)
	return nil
}

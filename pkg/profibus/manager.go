// Package profibus is the entry point of the PROFIBUS DP master stack.
// A Manager owns the masters of an application, one per PHY.
package profibus

import (
	"fmt"
	"sync"

	"avaneesh/profibus-go/pkg/dp"
	"avaneesh/profibus-go/pkg/internal/logger"
	"avaneesh/profibus-go/pkg/master"
	"avaneesh/profibus-go/pkg/phy"
)

// Re-exports for applications that only import this package
type (
	Master         = master.Master
	MasterConfig   = master.Config
	SlaveDesc      = master.SlaveDesc
	CfgDataElement = dp.CfgDataElement
)

// NewSlaveDesc creates a slave descriptor
func NewSlaveDesc(identNumber uint16, slaveAddr uint8, inputSize, outputSize int) (*SlaveDesc, error) {
	return master.NewSlaveDesc(identNumber, slaveAddr, inputSize, outputSize)
}

// DefaultMasterConfig returns the default master configuration
func DefaultMasterConfig() MasterConfig {
	return master.DefaultConfig()
}

// Manager is the root object of the stack
type Manager struct {
	masters map[string]*master.Master
	mu      sync.RWMutex
	logger  logger.Logger
}

// NewManager creates a manager logging through the default logger
func NewManager() *Manager {
	return NewManagerWithLogger(logger.GetDefault())
}

// NewManagerWithLogger creates a manager with a custom logger
func NewManagerWithLogger(log logger.Logger) *Manager {
	return &Manager{
		masters: make(map[string]*master.Master),
		logger:  logger.OrNoOp(log),
	}
}

// AddMaster creates a master on p and registers it under config.ID
func (m *Manager) AddMaster(config MasterConfig, p phy.Phy) (*Master, error) {
	if config.ID == "" {
		return nil, fmt.Errorf("master ID is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.masters[config.ID]; exists {
		return nil, fmt.Errorf("master %s already exists", config.ID)
	}

	dpm, err := master.New(config, p, m.logger)
	if err != nil {
		return nil, err
	}
	m.masters[config.ID] = dpm
	m.logger.Info("Manager: Added master %s", config.ID)
	return dpm, nil
}

// AddDPM1 creates a class 1 master with default timings
func (m *Manager) AddDPM1(id string, p phy.Phy, masterAddr uint8) (*Master, error) {
	config := master.DefaultConfig()
	config.ID = id
	config.Class = master.DPM1
	config.MasterAddr = masterAddr
	return m.AddMaster(config, p)
}

// AddDPM2 creates a class 2 master with default timings
func (m *Manager) AddDPM2(id string, p phy.Phy, masterAddr uint8) (*Master, error) {
	config := master.DefaultConfig()
	config.ID = id
	config.Class = master.DPM2
	config.MasterAddr = masterAddr
	return m.AddMaster(config, p)
}

// GetMaster returns a master by ID
func (m *Manager) GetMaster(id string) (*Master, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dpm, exists := m.masters[id]
	return dpm, exists
}

// RemoveMaster closes a master and its PHY
func (m *Manager) RemoveMaster(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dpm, exists := m.masters[id]
	if !exists {
		return fmt.Errorf("master %s not found", id)
	}
	if err := dpm.Close(); err != nil {
		m.logger.Error("Error closing master %s: %v", id, err)
	}
	delete(m.masters, id)
	m.logger.Info("Manager: Removed master %s", id)
	return nil
}

// Shutdown closes every master
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")
	for id, dpm := range m.masters {
		if err := dpm.Close(); err != nil {
			m.logger.Error("Error closing master %s: %v", id, err)
		}
	}
	m.masters = make(map[string]*master.Master)
	m.logger.Info("Manager: Shutdown complete")
	return nil
}

// MasterCount returns the number of masters
func (m *Manager) MasterCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.masters)
}

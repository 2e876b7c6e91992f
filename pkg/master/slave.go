package master

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TheCount/go-multilocker/multilocker"

	"avaneesh/profibus-go/pkg/dp"
	"avaneesh/profibus-go/pkg/fdl"
)

// SlaveDesc describes one DP slave and holds its process images.
// The scheduler reads outputs and writes inputs; the application does the
// opposite. Each image has its own lock, held only for buffer copies.
type SlaveDesc struct {
	IdentNumber uint16
	SlaveAddr   uint8
	InputSize   int // Input address range size in bytes
	OutputSize  int // Output address range size in bytes

	setPrm *dp.SetPrmReq
	chkCfg *dp.ChkCfgReq

	fcb           *fdl.FCB
	state         SlaveState
	parameterised atomic.Bool

	inMu       sync.Mutex
	inputs     []byte
	inputValid bool

	outMu   sync.Mutex
	outputs []byte
}

// NewSlaveDesc creates a slave descriptor with empty parameters and
// configuration
func NewSlaveDesc(identNumber uint16, slaveAddr uint8, inputSize, outputSize int) (*SlaveDesc, error) {
	if slaveAddr > dp.MaxSourceAddr {
		return nil, dp.Errorf("invalid slave address %d", slaveAddr)
	}
	if inputSize < 0 || outputSize < 0 {
		return nil, fmt.Errorf("invalid address range sizes %d/%d", inputSize, outputSize)
	}
	if inputSize > fdl.MaxDataSize || outputSize > fdl.MaxDataSize {
		return nil, fmt.Errorf("address range sizes %d/%d exceed %d bytes", inputSize, outputSize, fdl.MaxDataSize)
	}

	setPrm, err := dp.NewSetPrmReq(slaveAddr, 0)
	if err != nil {
		return nil, err
	}
	setPrm.IdentNumber = identNumber

	chkCfg, err := dp.NewChkCfgReq(slaveAddr, 0)
	if err != nil {
		return nil, err
	}

	return &SlaveDesc{
		IdentNumber: identNumber,
		SlaveAddr:   slaveAddr,
		InputSize:   inputSize,
		OutputSize:  outputSize,
		setPrm:      setPrm,
		chkCfg:      chkCfg,
		fcb:         fdl.NewFCB(),
		state:       newSlaveState(),
		outputs:     make([]byte, outputSize),
	}, nil
}

// configurable fails once the slave has been parameterised
func (s *SlaveDesc) configurable(what string) error {
	if s.parameterised.Load() {
		return dp.Errorf("cannot set %s of slave %d: already parameterised", what, s.SlaveAddr)
	}
	return nil
}

// SetSyncMode enables or disables sync mode support
func (s *SlaveDesc) SetSyncMode(enabled bool) error {
	if err := s.configurable("sync mode"); err != nil {
		return err
	}
	s.setPrm.SetSyncMode(enabled)
	return nil
}

// SetFreezeMode enables or disables freeze mode support
func (s *SlaveDesc) SetFreezeMode(enabled bool) error {
	if err := s.configurable("freeze mode"); err != nil {
		return err
	}
	s.setPrm.SetFreezeMode(enabled)
	return nil
}

// SetGroupMask sets the group membership used by Global_Control
func (s *SlaveDesc) SetGroupMask(groupMask uint8) error {
	if err := s.configurable("group mask"); err != nil {
		return err
	}
	s.setPrm.GroupIdent = groupMask
	return nil
}

// SetWatchdog sets the slave watchdog timeout in milliseconds; 0 disables it
func (s *SlaveDesc) SetWatchdog(ms int) error {
	if err := s.configurable("watchdog"); err != nil {
		return err
	}
	s.setPrm.SetWatchdog(ms)
	return nil
}

// SetMinTSDR sets the minimum station delay of responder in bit times
func (s *SlaveDesc) SetMinTSDR(tsdr uint8) error {
	if err := s.configurable("min TSDR"); err != nil {
		return err
	}
	s.setPrm.MinTSDR = tsdr
	return nil
}

// AddUserPrmData appends user parameter bytes to the Set_Prm telegram
func (s *SlaveDesc) AddUserPrmData(data []byte) error {
	if err := s.configurable("user parameters"); err != nil {
		return err
	}
	s.setPrm.AddUserPrmData(data)
	return nil
}

// AddCfgDataElement appends an element to the Chk_Cfg telegram
func (s *SlaveDesc) AddCfgDataElement(e dp.CfgDataElement) error {
	if err := s.configurable("configuration"); err != nil {
		return err
	}
	s.chkCfg.AddCfgDataElement(e)
	return nil
}

// SetPrmTelegram returns the prepared Set_Prm telegram
func (s *SlaveDesc) SetPrmTelegram() *dp.SetPrmReq {
	return s.setPrm
}

// ChkCfgTelegram returns the prepared Chk_Cfg telegram
func (s *SlaveDesc) ChkCfgTelegram() *dp.ChkCfgReq {
	return s.chkCfg
}

// IsParameterised reports whether the slave completed its bring-up
func (s *SlaveDesc) IsParameterised() bool {
	return s.parameterised.Load()
}

// State returns the scheduler state. It is only meaningful when read from
// the scheduler goroutine or while the scheduler is stopped.
func (s *SlaveDesc) State() *SlaveState {
	return &s.state
}

// SetOutputs stores the output image sent with the next data exchange.
// Shorter data is zero padded.
func (s *SlaveDesc) SetOutputs(data []byte) error {
	if len(data) > s.OutputSize {
		return fmt.Errorf("output data of %d bytes exceeds range of slave %d (%d bytes)", len(data), s.SlaveAddr, s.OutputSize)
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	n := copy(s.outputs, data)
	clear(s.outputs[n:])
	return nil
}

// Outputs returns a copy of the output image
func (s *SlaveDesc) Outputs() []byte {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return append([]byte(nil), s.outputs...)
}

// Inputs returns a copy of the last input image and whether it came from
// a successful data exchange
func (s *SlaveDesc) Inputs() ([]byte, bool) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	return append([]byte(nil), s.inputs...), s.inputValid
}

// Exchange atomically stores new outputs and reads the current inputs,
// holding both image locks at once
func (s *SlaveDesc) Exchange(outputs []byte) ([]byte, bool, error) {
	if len(outputs) > s.OutputSize {
		return nil, false, fmt.Errorf("output data of %d bytes exceeds range of slave %d (%d bytes)", len(outputs), s.SlaveAddr, s.OutputSize)
	}
	ml := multilocker.New(&s.inMu, &s.outMu)
	ml.Lock()
	defer ml.Unlock()

	n := copy(s.outputs, outputs)
	clear(s.outputs[n:])
	return append([]byte(nil), s.inputs...), s.inputValid, nil
}

// writeInputs stores the result of a data exchange
func (s *SlaveDesc) writeInputs(data []byte, valid bool) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	s.inputs = append(s.inputs[:0], data...)
	s.inputValid = valid
}

func (s *SlaveDesc) String() string {
	return fmt.Sprintf("Slave{Addr=%d, Ident=0x%04X, In=%d, Out=%d, State=%s}",
		s.SlaveAddr, s.IdentNumber, s.InputSize, s.OutputSize, s.state.Current())
}

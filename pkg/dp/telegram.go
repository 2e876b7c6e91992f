package dp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"avaneesh/profibus-go/pkg/fdl"
)

// Telegram is a DP telegram. The set of implementations is closed:
// DataExchangeReq, DataExchangeCon, SlaveDiagReq, SlaveDiagCon, SetPrmReq,
// ChkCfgReq, GlobalControl, GetCfgReq, GetCfgCon and FdlReply.
type Telegram interface {
	GetHeader() *Header
	String() string
}

// Header holds the addressing common to all DP telegrams.
// DSAP and SSAP are NoSAP when absent.
type Header struct {
	DA   uint8
	SA   uint8
	FC   uint8
	DSAP int
	SSAP int

	// ForceVariable always encodes an SD2 frame
	ForceVariable bool
}

// GetHeader returns the header
func (h *Header) GetHeader() *Header {
	return h
}

func newHeader(da, sa, fc uint8, dsap, ssap int) (Header, error) {
	h := Header{DA: da, SA: sa, FC: fc, DSAP: dsap, SSAP: ssap}
	return h, h.validate()
}

// SetSA assigns the source address
func (h *Header) SetSA(sa uint8) error {
	if sa > MaxSourceAddr {
		return Errorf("invalid source address %d", sa)
	}
	h.SA = sa
	return nil
}

func (h *Header) validate() error {
	if h.DA > MaxDestAddr {
		return Errorf("invalid destination address %d", h.DA)
	}
	if h.SA > MaxSourceAddr {
		return Errorf("invalid source address %d", h.SA)
	}
	if (h.DSAP == NoSAP) != (h.SSAP == NoSAP) {
		return Errorf("DSAP %d and SSAP %d must be both set or both absent", h.DSAP, h.SSAP)
	}
	if h.DSAP != NoSAP && (h.DSAP < 0 || h.DSAP > int(fdl.AEAddress)) {
		return Errorf("invalid DSAP %d", h.DSAP)
	}
	if h.SSAP != NoSAP && (h.SSAP < 0 || h.SSAP > int(fdl.AEAddress)) {
		return Errorf("invalid SSAP %d", h.SSAP)
	}
	return nil
}

func (h *Header) extensions() (dae, sae []byte) {
	if h.DSAP == NoSAP {
		return nil, nil
	}
	return []byte{byte(h.DSAP)}, []byte{byte(h.SSAP)}
}

func (h *Header) describe(name string) string {
	if h.DSAP == NoSAP {
		return fmt.Sprintf("%s{DA=%d SA=%d FC=0x%02X", name, h.DA, h.SA, h.FC)
	}
	return fmt.Sprintf("%s{DA=%d SA=%d FC=0x%02X DSAP=%d SSAP=%d", name, h.DA, h.SA, h.FC, h.DSAP, h.SSAP)
}

// DataExchangeReq is a Data_Exchange request carrying output data
type DataExchangeReq struct {
	Header
	DU []byte
}

// NewDataExchangeReq creates a Data_Exchange request
func NewDataExchangeReq(da, sa uint8, du []byte) (*DataExchangeReq, error) {
	h, err := newHeader(da, sa, fdl.FCReq|fdl.FCSrdHi, NoSAP, NoSAP)
	if err != nil {
		return nil, err
	}
	return &DataExchangeReq{Header: h, DU: du}, nil
}

func (t *DataExchangeReq) String() string {
	return fmt.Sprintf("%s DU=%s}", t.describe("Data_Exchange.req"), hexBytes(t.DU))
}

// DataExchangeCon is a Data_Exchange confirmation carrying input data
type DataExchangeCon struct {
	Header
	DU []byte
}

// DiagRequested reports whether the slave signals high priority data,
// asking the master for a diagnosis read.
func (t *DataExchangeCon) DiagRequested() bool {
	f := t.FC & fdl.FCResFuncMask
	return f == fdl.FCDh || f == fdl.FCRdh
}

func (t *DataExchangeCon) String() string {
	return fmt.Sprintf("%s DU=%s}", t.describe("Data_Exchange.con"), hexBytes(t.DU))
}

// SlaveDiagReq is a Slave_Diag request
type SlaveDiagReq struct {
	Header
}

// NewSlaveDiagReq creates a Slave_Diag request
func NewSlaveDiagReq(da, sa uint8) (*SlaveDiagReq, error) {
	h, err := newHeader(da, sa, fdl.FCReq|fdl.FCSrdHi, int(DSAPSlaveDiag), int(SSAPMS0))
	if err != nil {
		return nil, err
	}
	return &SlaveDiagReq{Header: h}, nil
}

func (t *SlaveDiagReq) String() string {
	return t.describe("Slave_Diag.req") + "}"
}

// SlaveDiagCon is a Slave_Diag confirmation
type SlaveDiagCon struct {
	Header
	B0          uint8
	B1          uint8
	B2          uint8
	MasterAddr  uint8
	IdentNumber uint16
	ExtDiag     []byte
}

func decodeSlaveDiagCon(h Header, du []byte) (Telegram, error) {
	if len(du) < DiagHeaderSize {
		return nil, Errorf("Slave_Diag.con data unit too short (%d bytes)", len(du))
	}
	t := &SlaveDiagCon{
		Header:      h,
		B0:          du[0],
		B1:          du[1],
		B2:          du[2],
		MasterAddr:  du[3],
		IdentNumber: binary.BigEndian.Uint16(du[4:6]),
	}
	if len(du) > DiagHeaderSize {
		t.ExtDiag = append([]byte(nil), du[DiagHeaderSize:]...)
	}
	return t, nil
}

func (t *SlaveDiagCon) encode() []byte {
	du := []byte{t.B0, t.B1, t.B2, t.MasterAddr, 0, 0}
	binary.BigEndian.PutUint16(du[4:], t.IdentNumber)
	return append(du, t.ExtDiag...)
}

// NotExist reports that the station did not answer
func (t *SlaveDiagCon) NotExist() bool {
	return t.B0&DiagB0StaNoExist != 0
}

// CfgFault reports a Chk_Cfg mismatch
func (t *SlaveDiagCon) CfgFault() bool {
	return t.B0&DiagB0CfgFlt != 0
}

// PrmFault reports a faulty Set_Prm telegram
func (t *SlaveDiagCon) PrmFault() bool {
	return t.B0&DiagB0PrmFlt != 0
}

// HasExtDiag reports that extended diagnosis data follows
func (t *SlaveDiagCon) HasExtDiag() bool {
	return t.B0&DiagB0ExtDiag != 0
}

// NeedsNewPrmCfg reports that the slave must be parameterised and
// configured again
func (t *SlaveDiagCon) NeedsNewPrmCfg() bool {
	return t.B0&DiagB0CfgFlt != 0 || t.B1&DiagB1PrmReq != 0
}

// IsReadyDataEx reports that the slave accepts Data_Exchange
func (t *SlaveDiagCon) IsReadyDataEx() bool {
	if t.B0&(DiagB0StaNoExist|DiagB0StaNoRdy|DiagB0CfgFlt|DiagB0PrmFlt) != 0 {
		return false
	}
	return t.B1&DiagB1PrmReq == 0
}

func (t *SlaveDiagCon) String() string {
	var buf bytes.Buffer
	buf.WriteString(t.describe("Slave_Diag.con"))
	buf.WriteString(fmt.Sprintf(" B0=0x%02X B1=0x%02X B2=0x%02X master=%d ident=0x%04X",
		t.B0, t.B1, t.B2, t.MasterAddr, t.IdentNumber))
	if len(t.ExtDiag) > 0 {
		buf.WriteString(" ext=" + hexBytes(t.ExtDiag))
	}
	buf.WriteString("}")
	return buf.String()
}

// SetPrmReq is a Set_Prm request
type SetPrmReq struct {
	Header
	StationStatus uint8
	WdFact1       uint8
	WdFact2       uint8
	MinTSDR       uint8
	IdentNumber   uint16
	GroupIdent    uint8
	UserPrmData   []byte
}

// NewSetPrmReq creates a Set_Prm request with the lock bit set and the
// watchdog off
func NewSetPrmReq(da, sa uint8) (*SetPrmReq, error) {
	h, err := newHeader(da, sa, fdl.FCReq|fdl.FCSrdHi, int(DSAPSetPrm), int(SSAPMS0))
	if err != nil {
		return nil, err
	}
	return &SetPrmReq{
		Header:        h,
		StationStatus: StationStatusLock,
		WdFact1:       1,
		WdFact2:       1,
	}, nil
}

// SetWatchdog enables the slave watchdog with a timeout of ms
// milliseconds, or disables it for ms <= 0. The timeout is
// 10ms * WdFact1 * WdFact2, rounded up.
func (t *SetPrmReq) SetWatchdog(ms int) {
	if ms <= 0 {
		t.StationStatus &^= StationStatusWD
		t.WdFact1, t.WdFact2 = 1, 1
		return
	}
	t10 := (ms + 9) / 10
	f1 := clampFactor((t10 + 254) / 255)
	f2 := clampFactor((t10 + f1 - 1) / f1)
	t.WdFact1, t.WdFact2 = uint8(f1), uint8(f2)
	t.StationStatus |= StationStatusWD
}

func clampFactor(v int) int {
	if v < 1 {
		return 1
	}
	if v > 255 {
		return 255
	}
	return v
}

// WatchdogMs returns the configured watchdog timeout, 0 when disabled
func (t *SetPrmReq) WatchdogMs() int {
	if t.StationStatus&StationStatusWD == 0 {
		return 0
	}
	return 10 * int(t.WdFact1) * int(t.WdFact2)
}

// SetSyncMode requests or clears sync mode support
func (t *SetPrmReq) SetSyncMode(enabled bool) {
	t.setStatus(StationStatusSync, enabled)
}

// SetFreezeMode requests or clears freeze mode support
func (t *SetPrmReq) SetFreezeMode(enabled bool) {
	t.setStatus(StationStatusFreeze, enabled)
}

func (t *SetPrmReq) setStatus(bit uint8, on bool) {
	if on {
		t.StationStatus |= bit
	} else {
		t.StationStatus &^= bit
	}
}

// AddUserPrmData appends user parameter bytes
func (t *SetPrmReq) AddUserPrmData(data []byte) {
	t.UserPrmData = append(t.UserPrmData, data...)
}

// ClearUserPrmData drops all user parameter bytes
func (t *SetPrmReq) ClearUserPrmData() {
	t.UserPrmData = nil
}

func (t *SetPrmReq) encode() []byte {
	du := []byte{
		t.StationStatus,
		t.WdFact1,
		t.WdFact2,
		t.MinTSDR,
		byte(t.IdentNumber >> 8),
		byte(t.IdentNumber),
		t.GroupIdent,
	}
	return append(du, t.UserPrmData...)
}

func (t *SetPrmReq) String() string {
	return fmt.Sprintf("%s status=0x%02X wd=%d,%d tsdr=%d ident=0x%04X group=0x%02X user=%s}",
		t.describe("Set_Prm.req"), t.StationStatus, t.WdFact1, t.WdFact2,
		t.MinTSDR, t.IdentNumber, t.GroupIdent, hexBytes(t.UserPrmData))
}

// CfgDataElement is one identifier of a Chk_Cfg data unit, optionally
// followed by manufacturer specific bytes
type CfgDataElement struct {
	Identifier uint8
	Data       []byte
}

// Bytes returns the wire form of the element
func (e CfgDataElement) Bytes() []byte {
	return append([]byte{e.Identifier}, e.Data...)
}

// ChkCfgReq is a Chk_Cfg request
type ChkCfgReq struct {
	Header
	CfgData []CfgDataElement
}

// NewChkCfgReq creates an empty Chk_Cfg request
func NewChkCfgReq(da, sa uint8) (*ChkCfgReq, error) {
	h, err := newHeader(da, sa, fdl.FCReq|fdl.FCSrdHi, int(DSAPChkCfg), int(SSAPMS0))
	if err != nil {
		return nil, err
	}
	return &ChkCfgReq{Header: h}, nil
}

// AddCfgDataElement appends a configuration element
func (t *ChkCfgReq) AddCfgDataElement(e CfgDataElement) {
	t.CfgData = append(t.CfgData, e)
}

func (t *ChkCfgReq) encode() []byte {
	var du []byte
	for _, e := range t.CfgData {
		du = append(du, e.Bytes()...)
	}
	return du
}

func (t *ChkCfgReq) String() string {
	return fmt.Sprintf("%s cfg=%s}", t.describe("Chk_Cfg.req"), hexBytes(t.encode()))
}

// GlobalControl is a broadcast Global_Control request
type GlobalControl struct {
	Header
	ControlCommand uint8
	GroupSelect    uint8
}

// NewGlobalControl creates a Global_Control request to the broadcast address
func NewGlobalControl(sa uint8, command, groupSelect uint8) (*GlobalControl, error) {
	h, err := newHeader(fdl.AddressBroadcast, sa, fdl.FCReq|fdl.FCSdnHi, int(DSAPGlobalControl), int(SSAPMS0))
	if err != nil {
		return nil, err
	}
	return &GlobalControl{Header: h, ControlCommand: command, GroupSelect: groupSelect}, nil
}

func (t *GlobalControl) String() string {
	return fmt.Sprintf("%s cmd=0x%02X group=0x%02X}", t.describe("Global_Control.req"), t.ControlCommand, t.GroupSelect)
}

// GetCfgReq is a Get_Cfg request
type GetCfgReq struct {
	Header
}

// NewGetCfgReq creates a Get_Cfg request
func NewGetCfgReq(da, sa uint8) (*GetCfgReq, error) {
	h, err := newHeader(da, sa, fdl.FCReq|fdl.FCSrdHi, int(DSAPGetCfg), int(SSAPMS0))
	if err != nil {
		return nil, err
	}
	return &GetCfgReq{Header: h}, nil
}

func (t *GetCfgReq) String() string {
	return t.describe("Get_Cfg.req") + "}"
}

// GetCfgCon is a Get_Cfg confirmation carrying the real slave configuration
type GetCfgCon struct {
	Header
	CfgData []byte
}

func (t *GetCfgCon) String() string {
	return fmt.Sprintf("%s cfg=%s}", t.describe("Get_Cfg.con"), hexBytes(t.CfgData))
}

// FdlReply wraps a reply that is not DP tagged: short acknowledges,
// tokens and status frames
type FdlReply struct {
	Header
	Fdl *fdl.Telegram
}

func (t *FdlReply) String() string {
	return "DP" + t.Fdl.String()
}

// IsShortAck reports whether the reply is a short acknowledge
func (t *FdlReply) IsShortAck() bool {
	return t.Fdl.Kind == fdl.KindShortAck
}

func hexBytes(b []byte) string {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, v := range b {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(fmt.Sprintf("%02X", v))
	}
	buf.WriteString("]")
	return buf.String()
}

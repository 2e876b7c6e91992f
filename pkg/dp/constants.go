package dp

// PROFIBUS DP (Layer 7) constants

// Source service access points
const (
	SSAPMS2 uint8 = 50
	SSAPMS1 uint8 = 51
	SSAPMM  uint8 = 54
	SSAPMS0 uint8 = 62
)

// Destination service access points
const (
	DSAPResourceMan   uint8 = 49
	DSAPAlarm         uint8 = 50
	DSAPServer        uint8 = 51
	DSAPExtUserPrm    uint8 = 53
	DSAPSetSlaveAdr   uint8 = 55
	DSAPRdInp         uint8 = 56
	DSAPRdOutp        uint8 = 57
	DSAPGlobalControl uint8 = 58
	DSAPGetCfg        uint8 = 59
	DSAPSlaveDiag     uint8 = 60
	DSAPSetPrm        uint8 = 61
	DSAPChkCfg        uint8 = 62
)

// NoSAP marks an absent service access point
const NoSAP = -1

// Address limits
const (
	MaxDestAddr   uint8 = 127 // 127 is the broadcast address
	MaxSourceAddr uint8 = 126
)

// Slave diagnosis status byte 1
const (
	DiagB0StaNoExist uint8 = 0x01 // Station does not exist
	DiagB0StaNoRdy   uint8 = 0x02 // Station not ready
	DiagB0CfgFlt     uint8 = 0x04 // Configuration fault
	DiagB0ExtDiag    uint8 = 0x08 // Extended diagnosis present
	DiagB0NoSupp     uint8 = 0x10 // Function not supported
	DiagB0InvalSR    uint8 = 0x20 // Invalid slave response
	DiagB0PrmFlt     uint8 = 0x40 // Parameter fault
	DiagB0MLock      uint8 = 0x80 // Locked by another master
)

// Slave diagnosis status byte 2
const (
	DiagB1PrmReq uint8 = 0x01 // New parameters requested
	DiagB1SDiag  uint8 = 0x02 // Static diagnosis
	DiagB1One    uint8 = 0x04 // Always one
	DiagB1WD     uint8 = 0x08 // Watchdog on
	DiagB1Freeze uint8 = 0x10 // Freeze mode active
	DiagB1Sync   uint8 = 0x20 // Sync mode active
	DiagB1Deac   uint8 = 0x80 // Slave deactivated
)

// Slave diagnosis status byte 3
const (
	DiagB2ExtDiagOvr uint8 = 0x80 // Extended diagnosis overflow
)

// Set_Prm station status
const (
	StationStatusWD     uint8 = 0x08 // Watchdog on
	StationStatusFreeze uint8 = 0x10 // Freeze mode requested
	StationStatusSync   uint8 = 0x20 // Sync mode requested
	StationStatusUnlock uint8 = 0x40 // Unlock request
	StationStatusLock   uint8 = 0x80 // Lock request
)

// Global_Control commands
const (
	GCClear    uint8 = 0x02
	GCUnfreeze uint8 = 0x04
	GCFreeze   uint8 = 0x08
	GCUnsync   uint8 = 0x10
	GCSync     uint8 = 0x20
)

// Diagnosis data unit layout
const (
	DiagHeaderSize = 6
)

// isKnownSAP reports whether s is a DP source or destination SAP.
// Several SSAP and DSAP numbers coincide.
func isKnownSAP(s uint8) bool {
	switch s {
	case SSAPMS2, SSAPMS1, SSAPMM, SSAPMS0,
		DSAPResourceMan, DSAPExtUserPrm, DSAPSetSlaveAdr, DSAPRdInp,
		DSAPRdOutp, DSAPGlobalControl, DSAPGetCfg, DSAPSlaveDiag, DSAPSetPrm:
		return true
	}
	return false
}

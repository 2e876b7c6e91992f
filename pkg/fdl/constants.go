package fdl

// PROFIBUS Layer 2 (Fieldbus Data Link) constants

// Start delimiters
const (
	SD1 uint8 = 0x10 // No data unit
	SD2 uint8 = 0x68 // Variable data unit
	SD3 uint8 = 0xA2 // 8 octet fixed data unit
	SD4 uint8 = 0xDC // Token telegram
	SC  uint8 = 0xE5 // Short acknowledge
)

// End delimiter
const ED uint8 = 0x16

// Frame sizes
const (
	NoDataFrameSize  = 6   // SD1 DA SA FC FCS ED
	Fixed8FrameSize  = 14  // SD3 DA SA FC DU[8] FCS ED
	TokenFrameSize   = 3   // SD4 DA SA
	ShortAckSize     = 1   // SC
	Fixed8DataSize   = 8   // Payload of an SD3 frame (extensions included)
	MaxDataSize      = 246 // Maximum data unit of an SD2 frame
	MinLE            = 3   // DA SA FC
	MaxLE            = 249 // MinLE + MaxDataSize
	variableOverhead = 6   // SD LE LE SD ... FCS ED
)

// Addresses
const (
	AddressMask      uint8 = 0x7F // Address value mask
	AddressExt       uint8 = 0x80 // DAE/SAE present
	AddressBroadcast uint8 = 0x7F // Multicast / global address
)

// Address extension bytes (DAE/SAE)
const (
	AEExt     uint8 = 0x80 // Further extensions present
	AESegment uint8 = 0x40 // Segment address
	AEAddress uint8 = 0x3F // Address extension number
)

// Frame control
const (
	FCReq uint8 = 0x40 // Request
	FCFCB uint8 = 0x20 // Frame Count Bit
	FCFCV uint8 = 0x10 // Frame Count Bit valid
)

// Request function codes (FCReq set)
const (
	FCReqFuncMask uint8 = 0x0F
	FCTimeEv      uint8 = 0x00 // Time event
	FCSdaLo       uint8 = 0x03 // SDA low prio
	FCSdnLo       uint8 = 0x04 // SDN low prio
	FCSdaHi       uint8 = 0x05 // SDA high prio
	FCSdnHi       uint8 = 0x06 // SDN high prio
	FCDdb         uint8 = 0x07 // Req. diagnosis data
	FCFdlStat     uint8 = 0x09 // Req. FDL status
	FCTe          uint8 = 0x0A // Actual time event
	FCCe          uint8 = 0x0B // Actual counter event
	FCSrdLo       uint8 = 0x0C // SRD low prio
	FCSrdHi       uint8 = 0x0D // SRD high prio
	FCIdent       uint8 = 0x0E // Req. ident
	FCLsap        uint8 = 0x0F // Req. LSAP status
)

// Response function codes (FCReq clear)
const (
	FCResFuncMask uint8 = 0x0F
	FCOk          uint8 = 0x00 // Positive ACK
	FCUe          uint8 = 0x01 // User error
	FCRr          uint8 = 0x02 // Resource error
	FCRs          uint8 = 0x03 // No service activated
	FCDl          uint8 = 0x08 // Res. data low
	FCNr          uint8 = 0x09 // ACK negative
	FCDh          uint8 = 0x0A // Res. data high
	FCRdl         uint8 = 0x0C // Res. data low, resource error
	FCRdh         uint8 = 0x0D // Res. data high, resource error
)

// Response station type (FCReq clear)
const (
	FCStypeMask uint8 = 0x30
	FCSlave     uint8 = 0x00 // Slave station
	FCMnrdy     uint8 = 0x10 // Master, not ready to enter token ring
	FCMrdy      uint8 = 0x20 // Master, ready to enter token ring
	FCMtr       uint8 = 0x30 // Master, in token ring
)

// IsSRDFunc reports whether a request frame control byte belongs to the
// send-and-request-data class, which is answered by the addressed station.
func IsSRDFunc(fc uint8) bool {
	if fc&FCReq == 0 {
		return false
	}
	switch fc & FCReqFuncMask {
	case FCSrdLo, FCSrdHi, FCSdaLo, FCSdaHi, FCDdb, FCFdlStat, FCIdent, FCLsap:
		return true
	}
	return false
}

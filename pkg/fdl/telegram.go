package fdl

import (
	"bytes"
	"fmt"
)

// Kind selects the physical frame shape of a telegram
type Kind uint8

const (
	KindNoData   Kind = iota // SD1, no data unit
	KindVariable             // SD2, variable data unit
	KindFixed8               // SD3, 8 octet data unit
	KindToken                // SD4
	KindShortAck             // SC
)

// String returns string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNoData:
		return "SD1"
	case KindVariable:
		return "SD2"
	case KindFixed8:
		return "SD3"
	case KindToken:
		return "SD4"
	case KindShortAck:
		return "SC"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// StartDelimiter returns the start delimiter byte of the frame shape
func (k Kind) StartDelimiter() uint8 {
	switch k {
	case KindNoData:
		return SD1
	case KindVariable:
		return SD2
	case KindFixed8:
		return SD3
	case KindToken:
		return SD4
	default:
		return SC
	}
}

// Telegram is an FDL telegram.
// DA and SA hold the 7 bit address values; the extension bit is derived
// from DAE/SAE on serialization and never stored.
type Telegram struct {
	Kind Kind
	DA   uint8  // Destination address
	SA   uint8  // Source address
	FC   uint8  // Frame control
	DAE  []byte // Destination address extensions
	SAE  []byte // Source address extensions
	DU   []byte // Data unit
}

// NewNoData creates an SD1 telegram
func NewNoData(da, sa, fc uint8) *Telegram {
	return &Telegram{Kind: KindNoData, DA: da & AddressMask, SA: sa & AddressMask, FC: fc}
}

// NewVariable creates an SD2 telegram
func NewVariable(da, sa, fc uint8, dae, sae, du []byte) (*Telegram, error) {
	t := &Telegram{
		Kind: KindVariable,
		DA:   da & AddressMask,
		SA:   sa & AddressMask,
		FC:   fc,
		DAE:  clone(dae),
		SAE:  clone(sae),
		DU:   clone(du),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewFixed8 creates an SD3 telegram. Extensions and data unit together
// must fill exactly 8 bytes.
func NewFixed8(da, sa, fc uint8, dae, sae, du []byte) (*Telegram, error) {
	t := &Telegram{
		Kind: KindFixed8,
		DA:   da & AddressMask,
		SA:   sa & AddressMask,
		FC:   fc,
		DAE:  clone(dae),
		SAE:  clone(sae),
		DU:   clone(du),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewToken creates a token telegram
func NewToken(da, sa uint8) *Telegram {
	return &Telegram{Kind: KindToken, DA: da & AddressMask, SA: sa & AddressMask}
}

// NewShortAck creates a short acknowledge
func NewShortAck() *Telegram {
	return &Telegram{Kind: KindShortAck}
}

// NewFdlStatReq creates a request for the FDL status of station da
func NewFdlStatReq(da, sa uint8) *Telegram {
	return NewNoData(da, sa, FCReq|FCFdlStat)
}

// NewIdentReq creates an ident request
func NewIdentReq(da, sa uint8) *Telegram {
	return NewNoData(da, sa, FCReq|FCIdent)
}

// NewLsapStatusReq creates an LSAP status request
func NewLsapStatusReq(da, sa uint8) *Telegram {
	return NewNoData(da, sa, FCReq|FCLsap)
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// payloadLen is the number of bytes between FC and FCS
func (t *Telegram) payloadLen() int {
	return len(t.DAE) + len(t.SAE) + len(t.DU)
}

// Validate checks the shape constraints of the telegram
func (t *Telegram) Validate() error {
	switch t.Kind {
	case KindNoData:
		if t.payloadLen() != 0 {
			return newError(ErrDataLength, "SD1 telegram cannot carry extensions or data")
		}
	case KindVariable:
		if len(t.DU) > MaxDataSize {
			return newError(ErrDataLength, "%d bytes exceed %d", len(t.DU), MaxDataSize)
		}
		if MinLE+t.payloadLen() > MaxLE {
			return newError(ErrDataLength, "LE %d exceeds %d", MinLE+t.payloadLen(), MaxLE)
		}
	case KindFixed8:
		if t.payloadLen() != Fixed8DataSize {
			return newError(ErrDataLength, "SD3 payload is %d bytes, need %d", t.payloadLen(), Fixed8DataSize)
		}
	case KindToken, KindShortAck:
		if t.payloadLen() != 0 {
			return newError(ErrDataLength, "%s telegram cannot carry data", t.Kind)
		}
		return nil
	default:
		return newError(ErrFormat, "unknown telegram kind %d", t.Kind)
	}
	if err := validateExtensions(t.DAE); err != nil {
		return err
	}
	return validateExtensions(t.SAE)
}

// validateExtensions checks that every byte but the last announces a
// further extension and the last one does not
func validateExtensions(ext []byte) error {
	for i, b := range ext {
		last := i == len(ext)-1
		if last && b&AEExt != 0 {
			return newError(ErrExtension, "last extension 0x%02X announces another", b)
		}
		if !last && b&AEExt == 0 {
			return newError(ErrExtension, "extension chain ends early at 0x%02X", b)
		}
	}
	return nil
}

// Checksum returns the FDL frame check sequence of data
func Checksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}

func addressByte(addr uint8, ext []byte) uint8 {
	addr &= AddressMask
	if len(ext) > 0 {
		addr |= AddressExt
	}
	return addr
}

// Serialize converts the telegram to wire format
func (t *Telegram) Serialize() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	switch t.Kind {
	case KindShortAck:
		return []byte{SC}, nil
	case KindToken:
		return []byte{SD4, t.DA & AddressMask, t.SA & AddressMask}, nil
	}

	data := make([]byte, 0, variableOverhead+MinLE+t.payloadLen())
	fcsStart := 1
	if t.Kind == KindVariable {
		le := uint8(MinLE + t.payloadLen())
		data = append(data, SD2, le, le)
		fcsStart = 4
	}
	data = append(data,
		t.Kind.StartDelimiter(),
		addressByte(t.DA, t.DAE),
		addressByte(t.SA, t.SAE),
		t.FC)
	data = append(data, t.DAE...)
	data = append(data, t.SAE...)
	data = append(data, t.DU...)
	data = append(data, Checksum(data[fcsStart:]), ED)
	return data, nil
}

// Parse parses wire format data into a Telegram
func Parse(data []byte) (*Telegram, error) {
	if len(data) == 0 {
		return nil, newError(ErrFormat, "empty packet")
	}

	switch data[0] {
	case SD1:
		if len(data) != NoDataFrameSize {
			return nil, newError(ErrLength, "SD1 telegram is %d bytes", len(data))
		}
		if data[5] != ED {
			return nil, newError(ErrDelimiter, "end delimiter 0x%02X", data[5])
		}
		if data[4] != Checksum(data[1:4]) {
			return nil, newError(ErrChecksum, "got 0x%02X, want 0x%02X", data[4], Checksum(data[1:4]))
		}
		if data[1]&AddressExt != 0 || data[2]&AddressExt != 0 {
			return nil, newError(ErrExtension, "SD1 telegram announces address extensions")
		}
		return NewNoData(data[1], data[2], data[3]), nil

	case SD2:
		if len(data) < 4 {
			return nil, newError(ErrFormat, "truncated SD2 header")
		}
		le := int(data[1])
		if int(data[2]) != le {
			return nil, newError(ErrLength, "repeated length field mismatch (%d != %d)", le, data[2])
		}
		if le < MinLE || le > MaxLE {
			return nil, newError(ErrLength, "LE field %d out of range", le)
		}
		if data[3] != SD2 {
			return nil, newError(ErrDelimiter, "repeated start delimiter 0x%02X", data[3])
		}
		if len(data) < le+variableOverhead {
			return nil, newError(ErrFormat, "packet shorter than LE (%d < %d)", len(data), le+variableOverhead)
		}
		if len(data) > le+variableOverhead {
			return nil, newError(ErrLength, "packet longer than LE (%d > %d)", len(data), le+variableOverhead)
		}
		if data[5+le] != ED {
			return nil, newError(ErrDelimiter, "end delimiter 0x%02X", data[5+le])
		}
		if fcs := Checksum(data[4 : 4+le]); data[4+le] != fcs {
			return nil, newError(ErrChecksum, "got 0x%02X, want 0x%02X", data[4+le], fcs)
		}
		return parseAddressed(KindVariable, data[4], data[5], data[6], data[7:4+le])

	case SD3:
		if len(data) != Fixed8FrameSize {
			return nil, newError(ErrLength, "SD3 telegram is %d bytes", len(data))
		}
		if data[13] != ED {
			return nil, newError(ErrDelimiter, "end delimiter 0x%02X", data[13])
		}
		if fcs := Checksum(data[1:12]); data[12] != fcs {
			return nil, newError(ErrChecksum, "got 0x%02X, want 0x%02X", data[12], fcs)
		}
		return parseAddressed(KindFixed8, data[1], data[2], data[3], data[4:12])

	case SD4:
		if len(data) != TokenFrameSize {
			return nil, newError(ErrLength, "token telegram is %d bytes", len(data))
		}
		return NewToken(data[1], data[2]), nil

	case SC:
		if len(data) != ShortAckSize {
			return nil, newError(ErrLength, "short ACK is %d bytes", len(data))
		}
		return NewShortAck(), nil

	default:
		return nil, newError(ErrDelimiter, "start delimiter 0x%02X", data[0])
	}
}

// parseAddressed splits address extensions off the payload of SD2/SD3 frames
func parseAddressed(kind Kind, da, sa, fc uint8, payload []byte) (*Telegram, error) {
	t := &Telegram{Kind: kind, DA: da & AddressMask, SA: sa & AddressMask, FC: fc}
	rest := payload
	var err error
	if da&AddressExt != 0 {
		if t.DAE, rest, err = splitExtensions(rest); err != nil {
			return nil, err
		}
	}
	if sa&AddressExt != 0 {
		if t.SAE, rest, err = splitExtensions(rest); err != nil {
			return nil, err
		}
	}
	t.DU = clone(rest)
	return t, nil
}

func splitExtensions(payload []byte) (ext, rest []byte, err error) {
	for i, b := range payload {
		if b&AEExt == 0 {
			return clone(payload[:i+1]), payload[i+1:], nil
		}
	}
	return nil, nil, newError(ErrFormat, "unterminated address extension")
}

// IsRequest reports whether the telegram carries a request frame control
func (t *Telegram) IsRequest() bool {
	return t.FC&FCReq != 0
}

// ReqFunc returns the request function code
func (t *Telegram) ReqFunc() uint8 {
	return t.FC & FCReqFuncMask
}

// ResFunc returns the response function code
func (t *Telegram) ResFunc() uint8 {
	return t.FC & FCResFuncMask
}

// StationType returns the station type of a response
func (t *Telegram) StationType() uint8 {
	return t.FC & FCStypeMask
}

// HasDestination reports whether the frame shape carries a destination address
func (t *Telegram) HasDestination() bool {
	return t.Kind != KindShortAck && t.Kind != KindToken
}

// String returns a string representation of the telegram
func (t *Telegram) String() string {
	switch t.Kind {
	case KindShortAck:
		return "FDL{SC}"
	case KindToken:
		return fmt.Sprintf("FDL{SD4 DA=%d SA=%d}", t.DA, t.SA)
	}
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("FDL{%s DA=%d SA=%d FC=0x%02X", t.Kind, t.DA, t.SA, t.FC))
	writeBytes(&buf, "DAE", t.DAE)
	writeBytes(&buf, "SAE", t.SAE)
	writeBytes(&buf, "DU", t.DU)
	buf.WriteString("}")
	return buf.String()
}

func writeBytes(buf *bytes.Buffer, name string, b []byte) {
	if len(b) == 0 {
		return
	}
	buf.WriteString(" " + name + "=[")
	for i, v := range b {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(fmt.Sprintf("%02X", v))
	}
	buf.WriteString("]")
}

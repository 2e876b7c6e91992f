package dp

import (
	"avaneesh/profibus-go/pkg/fdl"
)

type sapPair struct {
	dsap uint8
	ssap uint8
}

type decodeFunc func(h Header, du []byte) (Telegram, error)

// decoders maps the SAPs found in a received telegram to its decoder.
// Replies address the master's SSAP as their DSAP.
var decoders = map[sapPair]decodeFunc{
	{SSAPMS0, DSAPSlaveDiag}: decodeSlaveDiagCon,
	{SSAPMS0, DSAPGetCfg}:    decodeGetCfgCon,
}

func decodeGetCfgCon(h Header, du []byte) (Telegram, error) {
	return &GetCfgCon{Header: h, CfgData: append([]byte(nil), du...)}, nil
}

// ToFdl encodes a DP telegram. The frame shape follows the payload size:
// empty payloads use SD1, 8 byte payloads SD3 and everything else SD2,
// unless ForceVariable is set.
func ToFdl(t Telegram) (*fdl.Telegram, error) {
	var du []byte
	switch v := t.(type) {
	case *DataExchangeReq:
		du = v.DU
	case *DataExchangeCon:
		du = v.DU
	case *SlaveDiagReq:
	case *SlaveDiagCon:
		du = v.encode()
	case *SetPrmReq:
		du = v.encode()
	case *ChkCfgReq:
		du = v.encode()
	case *GlobalControl:
		du = []byte{v.ControlCommand, v.GroupSelect}
	case *GetCfgReq:
	case *GetCfgCon:
		du = v.CfgData
	case *FdlReply:
		return v.Fdl, nil
	default:
		return nil, Errorf("unsupported telegram type %T", t)
	}

	h := t.GetHeader()
	if err := h.validate(); err != nil {
		return nil, err
	}
	dae, sae := h.extensions()

	var (
		ft  *fdl.Telegram
		err error
	)
	switch size := len(dae) + len(sae) + len(du); {
	case h.ForceVariable:
		ft, err = fdl.NewVariable(h.DA, h.SA, h.FC, dae, sae, du)
	case size == 0:
		ft = fdl.NewNoData(h.DA, h.SA, h.FC)
	case size == fdl.Fixed8DataSize:
		ft, err = fdl.NewFixed8(h.DA, h.SA, h.FC, dae, sae, du)
	default:
		ft, err = fdl.NewVariable(h.DA, h.SA, h.FC, dae, sae, du)
	}
	if err != nil {
		return nil, Errorf("cannot encode %s: %w", t, err)
	}
	return ft, nil
}

// FromFdl decodes a received FDL telegram. Short acknowledges, tokens and
// SD1 status frames are returned as *FdlReply. An SD1 reply carrying a data
// response code (DL, DH, RDL, RDH) is a Data_Exchange.con without inputs.
func FromFdl(ft *fdl.Telegram) (Telegram, error) {
	h := Header{DA: ft.DA, SA: ft.SA, FC: ft.FC, DSAP: NoSAP, SSAP: NoSAP}

	switch ft.Kind {
	case fdl.KindShortAck, fdl.KindToken:
		return &FdlReply{Header: h, Fdl: ft}, nil
	case fdl.KindNoData:
		if !ft.IsRequest() && isDataResponse(ft.ResFunc()) {
			return &DataExchangeCon{Header: h, DU: []byte{}}, nil
		}
		return &FdlReply{Header: h, Fdl: ft}, nil
	}

	hasDSAP, hasSSAP := len(ft.DAE) > 0, len(ft.SAE) > 0
	if !hasDSAP && !hasSSAP {
		// Never nil, an empty DU is still a valid reply
		du := make([]byte, len(ft.DU))
		copy(du, ft.DU)
		if ft.IsRequest() {
			return &DataExchangeReq{Header: h, DU: du}, nil
		}
		return &DataExchangeCon{Header: h, DU: du}, nil
	}
	if !hasDSAP {
		return nil, Errorf("telegram from %d has SSAP but no DSAP", ft.SA)
	}
	if !hasSSAP {
		return nil, Errorf("telegram from %d has DSAP but no SSAP", ft.SA)
	}

	dsap := ft.DAE[0] & fdl.AEAddress
	ssap := ft.SAE[0] & fdl.AEAddress
	if !isKnownSAP(dsap) {
		return nil, Errorf("unknown DSAP %d", dsap)
	}
	if !isKnownSAP(ssap) {
		return nil, Errorf("unknown SSAP %d", ssap)
	}
	decode, ok := decoders[sapPair{dsap, ssap}]
	if !ok {
		return nil, Errorf("unsupported SAP combination DSAP %d SSAP %d", dsap, ssap)
	}
	h.DSAP, h.SSAP = int(dsap), int(ssap)
	return decode(h, ft.DU)
}

func isDataResponse(f uint8) bool {
	switch f {
	case fdl.FCDl, fdl.FCDh, fdl.FCRdl, fdl.FCRdh:
		return true
	}
	return false
}

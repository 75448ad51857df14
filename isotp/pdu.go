package isotp

import "fmt"

// PDUType is the CAN-TP protocol data unit kind, carried in the high
// nibble of the first payload byte.
type PDUType int

const (
	PDUSingleFrame PDUType = iota
	PDUFirstFrame
	PDUConsecutiveFrame
	PDUFlowControl
)

// FlowStatus is the flow-control status carried in a FlowControl PDU.
type FlowStatus int

const (
	FlowStatusContinueToSend FlowStatus = 0
	FlowStatusWait           FlowStatus = 1
	FlowStatusOverflow       FlowStatus = 2
)

// FD-legal frame payload lengths, indexed by DLC. The values are the same
// as can.FDDataLengths, which the bus frame validator uses.
var fdSizes = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// PDU is the decoded form of one CAN-TP frame's payload, after any
// addressing prefix byte has been stripped.
type PDU struct {
	Type PDUType

	// Single and First frame fields.
	Length uint32
	Data   []byte

	// Consecutive frame field.
	SeqNum uint8

	// FlowControl fields.
	FlowStatus   FlowStatus
	BlockSize    uint8
	StMinRaw     uint8
	StMinSeconds float64

	// EscapeSequence reports whether a Single or First frame used its
	// long-length encoding.
	EscapeSequence bool

	// CanDL is the underlying frame's payload length; RxDL is
	// max(8, CanDL), used for CAN FD compatibility checks.
	CanDL int
	RxDL  int
}

// DecodePDU parses frame payload bytes (data) starting at startOfData (the
// addressing prefix size: 0 or 1) into a PDU.
func DecodePDU(data []byte, startOfData int) (*PDU, error) {
	if len(data) < startOfData {
		return nil, newProtocolError(ErrEmptyFrame, "frame shorter than addressing prefix")
	}
	canDL := len(data)
	body := data[startOfData:]
	if len(body) == 0 {
		return nil, newProtocolError(ErrEmptyFrame, "empty CAN frame")
	}

	typ := PDUType((body[0] >> 4) & 0xF)
	if typ > PDUFlowControl {
		return nil, newProtocolError(ErrUnknownFrameType, fmt.Sprintf("unknown frame type %d", typ))
	}

	pdu := &PDU{Type: typ, CanDL: canDL, RxDL: maxInt(8, canDL)}

	switch typ {
	case PDUSingleFrame:
		if err := pdu.decodeSingle(body); err != nil {
			return nil, err
		}
	case PDUFirstFrame:
		if err := pdu.decodeFirst(body); err != nil {
			return nil, err
		}
	case PDUConsecutiveFrame:
		pdu.SeqNum = body[0] & 0xF
		pdu.Data = body[1:]
	case PDUFlowControl:
		if err := pdu.decodeFlowControl(body); err != nil {
			return nil, err
		}
	}
	return pdu, nil
}

func (p *PDU) decodeSingle(body []byte) error {
	lengthPlaceholder := body[0] & 0xF
	if lengthPlaceholder != 0 {
		if p.CanDL > 8 {
			return newProtocolError(ErrMissingEscapeSequence,
				"single frame in an oversized CAN frame must use the escape sequence")
		}
		p.Length = uint32(lengthPlaceholder)
		if int(p.Length) > len(body)-1 {
			return newProtocolError(ErrInvalidCanData, fmt.Sprintf(
				"single frame claims length %d but only %d bytes of room", p.Length, len(body)-1))
		}
		p.Data = body[1:][:p.Length]
		return nil
	}

	// Escape sequence.
	if len(body) < 2 {
		return newProtocolError(ErrMissingEscapeSequence, "single frame escape sequence needs at least 2 bytes")
	}
	p.EscapeSequence = true
	p.Length = uint32(body[1])
	if p.Length == 0 {
		return newProtocolError(ErrInvalidCanData, "single frame with escape sequence has length 0")
	}
	if int(p.Length) > len(body)-2 {
		return newProtocolError(ErrInvalidCanData, fmt.Sprintf(
			"single frame claims length %d but only %d bytes of room", p.Length, len(body)-2))
	}
	p.Data = body[2:][:p.Length]
	return nil
}

func (p *PDU) decodeFirst(body []byte) error {
	if len(body) < 2 {
		return newProtocolError(ErrInvalidCanData, "first frame needs at least 2 bytes")
	}
	if !isLegalCanDL(p.CanDL) {
		return newProtocolError(ErrInvalidCanFdFirstFrameRXDL,
			fmt.Sprintf("first frame has illegal CAN frame length %d", p.CanDL))
	}
	lengthPlaceholder := (uint32(body[0]&0xF) << 8) | uint32(body[1])
	if lengthPlaceholder != 0 {
		p.Length = lengthPlaceholder
		p.Data = body[2:][:minInt(int(p.Length), len(body)-2)]
		return nil
	}

	if len(body) < 6 {
		return newProtocolError(ErrInvalidCanData, "first frame with escape sequence needs at least 6 bytes")
	}
	p.EscapeSequence = true
	p.Length = uint32(body[2])<<24 | uint32(body[3])<<16 | uint32(body[4])<<8 | uint32(body[5])
	p.Data = body[6:][:minInt(int(p.Length), len(body)-6)]
	return nil
}

func (p *PDU) decodeFlowControl(body []byte) error {
	if len(body) < 3 {
		return newProtocolError(ErrInvalidCanData, "flow control frame needs at least 3 bytes")
	}
	p.FlowStatus = FlowStatus(body[0] & 0xF)
	if p.FlowStatus > FlowStatusOverflow {
		return newProtocolError(ErrInvalidCanData, fmt.Sprintf("unknown flow status %d", p.FlowStatus))
	}
	p.BlockSize = body[1]
	raw := body[2]
	p.StMinRaw = raw
	switch {
	case raw <= 0x7F:
		p.StMinSeconds = float64(raw) / 1000.0
	case raw >= 0xF1 && raw <= 0xF9:
		p.StMinSeconds = float64(uint32(raw)-0xF0) / 10000.0
	default:
		return newProtocolError(ErrInvalidStMin, fmt.Sprintf("invalid StMin byte 0x%02X", raw))
	}
	return nil
}

// EncodeSingleFrame builds the payload for a Single frame carrying data,
// prefixed by prefix (0 or 1 bytes). It uses the short (non-escape) form
// whenever the resulting frame fits entirely within 8 bytes, and the
// escape (long-length) form otherwise, since a decoder must see the escape
// sequence whenever the underlying frame carries more than 8 bytes
// regardless of how the sender's frame size is configured.
//
// A zero-length payload has no representation as a Single frame at all: a
// length nibble of 0 always signals the escape form, and the escape form's
// own length byte is rejected by decodeSingle when it is 0. Callers must
// not route an empty payload through this encoding.
func EncodeSingleFrame(prefix []byte, data []byte) []byte {
	var out []byte
	if len(data) >= 1 && len(data) <= 0xF && len(prefix)+1+len(data) <= 8 {
		out = append(out, prefix...)
		out = append(out, byte(len(data)))
		out = append(out, data...)
		return out
	}
	out = append(out, prefix...)
	out = append(out, 0x00, byte(len(data)))
	out = append(out, data...)
	return out
}

// EncodeFirstFrame builds the payload for a First frame with the given
// total length and the initial data chunk, prefixed by prefix.
func EncodeFirstFrame(prefix []byte, totalLength uint32, chunk []byte) []byte {
	var out []byte
	out = append(out, prefix...)
	if totalLength <= 0xFFF {
		out = append(out, 0x10|byte((totalLength>>8)&0xF), byte(totalLength))
	} else {
		out = append(out, 0x10, 0x00,
			byte(totalLength>>24), byte(totalLength>>16), byte(totalLength>>8), byte(totalLength))
	}
	out = append(out, chunk...)
	return out
}

// EncodeConsecutiveFrame builds the payload for a Consecutive frame with
// the given (already wrapped modulo 16) sequence number.
func EncodeConsecutiveFrame(prefix []byte, seqNum uint8, chunk []byte) []byte {
	var out []byte
	out = append(out, prefix...)
	out = append(out, 0x20|(seqNum&0xF))
	out = append(out, chunk...)
	return out
}

// EncodeFlowControl builds the payload for a FlowControl frame.
func EncodeFlowControl(prefix []byte, status FlowStatus, blockSize uint8, stMinRaw uint8) []byte {
	var out []byte
	out = append(out, prefix...)
	out = append(out, 0x30|byte(status&0xF), blockSize, stMinRaw)
	return out
}

// SingleSmallCap computes the maximum data length that fits in the
// non-escape Single frame encoding for a given tx_data_length and prefix
// size, per §4.D.
func SingleSmallCap(txDataLength int, prefixLen int) int {
	overhead := 2
	if txDataLength == 8 {
		overhead = 1
	}
	cap := txDataLength - overhead - prefixLen
	if cap < 0 {
		return 0
	}
	return cap
}

// Len2DLC returns the DLC that encodes a payload of the given length. Over
// 64 bytes it returns a *ProtocolError of kind ErrInvalidCanData that
// reports the impossible size.
func Len2DLC(length int) (uint8, error) {
	if length <= 8 {
		return uint8(length), nil
	}
	for dlc, n := range fdSizes {
		if n >= length {
			return uint8(dlc), nil
		}
	}
	return 0, newProtocolError(ErrInvalidCanData, fmt.Sprintf("impossible size %d for CAN FD payload", length))
}

// DLC2Len returns the data length encoded by a given DLC (0..15).
func DLC2Len(dlc uint8) int {
	if int(dlc) >= len(fdSizes) {
		return fdSizes[len(fdSizes)-1]
	}
	return fdSizes[dlc]
}

// PadPayload pads payload to a legal outbound length, per §4.D. It returns
// payload itself when no padding is needed, and otherwise a newly allocated
// padded slice; payload is never modified.
//
// txDataLength is the configured frame size (8, or one of the FD sizes).
// padByte is nil when padding is disabled; minLength is the configured
// tx_data_min_length (0 when unset).
func PadPayload(payload []byte, txDataLength int, padByte *uint8, minLength int) []byte {
	mustPad := false
	target := 0

	switch {
	case txDataLength == 8:
		if minLength == 0 {
			if padByte != nil {
				mustPad, target = true, 8
			}
		} else {
			mustPad, target = true, minLength
		}
	default: // CAN FD
		fdSize := smallestLegalFDSize(len(payload))
		if minLength == 0 {
			mustPad, target = true, fdSize
		} else {
			mustPad, target = true, maxInt(minLength, fdSize)
		}
	}

	if !mustPad || len(payload) >= target {
		return payload
	}
	return padTo(payload, target, padByteOrDefault(padByte))
}

func smallestLegalFDSize(n int) int {
	for _, sz := range fdSizes {
		if sz >= n {
			return sz
		}
	}
	return fdSizes[len(fdSizes)-1]
}

func padByteOrDefault(padByte *uint8) byte {
	if padByte != nil {
		return *padByte
	}
	return 0xCC
}

func padTo(payload []byte, target int, b byte) []byte {
	if len(payload) >= target {
		return payload
	}
	out := make([]byte, target)
	copy(out, payload)
	for i := len(payload); i < target; i++ {
		out[i] = b
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func isLegalCanDL(n int) bool {
	for _, sz := range fdSizes {
		if sz == n {
			return true
		}
	}
	return false
}

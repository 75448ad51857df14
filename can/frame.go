package can

import (
	"errors"
	"fmt"
	"math"
)

// FDDataLengths lists the data lengths a CAN FD frame may legally carry,
// indexed by DLC (0..15). Classical CAN only ever uses DLC 0..8, which is
// also the prefix of this table.
var FDDataLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// Validation limits for arbitration identifiers.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

var (
	// ErrInvalidID is returned when an arbitration id exceeds the range
	// permitted by its identifier width.
	ErrInvalidID = errors.New("can: invalid arbitration id")
	// ErrInvalidLen is returned when a frame's data length is not a legal
	// length for its frame kind (classical vs. FD).
	ErrInvalidLen = errors.New("can: invalid data length")
	// ErrInvalidFrame is returned for structurally inconsistent frames,
	// such as a frame that is simultaneously a remote and an error frame.
	ErrInvalidFrame = errors.New("can: invalid frame")
)

// Frame represents one CAN or CAN FD frame, as described by ISO 11898 and
// the CAN FD extension. It is an immutable value object: once constructed,
// none of its fields should be mutated by a caller that shares it.
//
// Frame holds a Data slice, so it is not comparable with == and cannot be
// used as a map key; use Equal to compare two frames by content.
type Frame struct {
	ArbitrationID       uint32
	IsExtendedID        bool
	IsFD                bool
	IsRemoteFrame       bool
	IsErrorFrame        bool
	BitrateSwitch       bool
	ErrorStateIndicator bool
	IsRx                bool
	DLC                 uint8
	Data                []byte
	Timestamp           float64 // seconds
	Channel             *int
}

// Validate checks the structural invariants of the frame: identifier range,
// the mutual exclusion of remote and error frames, absence of data on
// remote frames, and that the data length is legal for the frame's kind.
func (f Frame) Validate() error {
	if f.ArbitrationID > MaxExtendedID {
		return ErrInvalidID
	}
	if !f.IsExtendedID && f.ArbitrationID > MaxStandardID {
		return ErrInvalidID
	}
	if f.IsRemoteFrame && f.IsErrorFrame {
		return fmt.Errorf("%w: a frame cannot be both remote and error", ErrInvalidFrame)
	}
	if f.IsRemoteFrame && len(f.Data) != 0 {
		return fmt.Errorf("%w: remote frames may not carry data", ErrInvalidFrame)
	}
	if !f.IsFD && (f.BitrateSwitch || f.ErrorStateIndicator) {
		return fmt.Errorf("%w: bitrate switch / error state indicator require CAN FD", ErrInvalidFrame)
	}
	if f.IsRemoteFrame {
		return nil
	}
	if f.IsFD {
		if !isLegalFDLength(len(f.Data)) {
			return ErrInvalidLen
		}
	} else {
		if len(f.Data) > 8 || int(f.DLC) != len(f.Data) {
			return ErrInvalidLen
		}
	}
	return nil
}

func isLegalFDLength(n int) bool {
	for _, l := range FDDataLengths {
		if l == n {
			return true
		}
	}
	return false
}

// Len2DLC returns the DLC that encodes a payload of the given length,
// choosing the smallest legal frame size that can hold it.
func Len2DLC(length int) (uint8, error) {
	if length <= 8 {
		return uint8(length), nil
	}
	for dlc, n := range FDDataLengths {
		if n >= length {
			return uint8(dlc), nil
		}
	}
	return 0, fmt.Errorf("can: impossible size for CAN FD payload of %d bytes", length)
}

// DLC2Len returns the data length encoded by a given DLC (0..15).
func DLC2Len(dlc uint8) int {
	if int(dlc) >= len(FDDataLengths) {
		return FDDataLengths[len(FDDataLengths)-1]
	}
	return FDDataLengths[dlc]
}

// Equal compares two frames by content rather than by identity.
// timestampTolerance bounds how far apart two timestamps may be and still
// be considered equal; pass a negative value to skip the timestamp
// comparison entirely. When ignoreDirection is true, IsRx is not compared.
func (f Frame) Equal(other Frame, timestampTolerance float64, ignoreDirection bool) bool {
	if timestampTolerance >= 0 && math.Abs(f.Timestamp-other.Timestamp) > timestampTolerance {
		return false
	}
	if !ignoreDirection && f.IsRx != other.IsRx {
		return false
	}
	if f.ArbitrationID != other.ArbitrationID ||
		f.IsExtendedID != other.IsExtendedID ||
		f.IsFD != other.IsFD ||
		f.IsRemoteFrame != other.IsRemoteFrame ||
		f.IsErrorFrame != other.IsErrorFrame ||
		f.BitrateSwitch != other.BitrateSwitch ||
		f.ErrorStateIndicator != other.ErrorStateIndicator ||
		f.DLC != other.DLC {
		return false
	}
	if (f.Channel == nil) != (other.Channel == nil) {
		return false
	}
	if f.Channel != nil && *f.Channel != *other.Channel {
		return false
	}
	return string(f.Data) == string(other.Data)
}

// String renders a frame in a compact, human-readable form suitable for
// logs, e.g. "123 [2] DE AD".
func (f Frame) String() string {
	width := 3
	if f.IsExtendedID {
		width = 8
	}
	s := fmt.Sprintf("%0*X [%d]", width, f.ArbitrationID, len(f.Data))
	if f.IsRemoteFrame {
		return s + " RTR"
	}
	for _, b := range f.Data {
		s += fmt.Sprintf(" %02X", b)
	}
	return s
}

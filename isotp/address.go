package isotp

import (
	"fmt"

	"github.com/canio/cantp/can"
)

// AddressMode is one of the seven ISO 15765-2 addressing variants.
type AddressMode int

const (
	Normal11bits AddressMode = iota
	Normal29bits
	NormalFixed29bits
	Extended11bits
	Extended29bits
	Mixed11bits
	Mixed29bits
)

func (m AddressMode) String() string {
	switch m {
	case Normal11bits:
		return "Normal_11bits"
	case Normal29bits:
		return "Normal_29bits"
	case NormalFixed29bits:
		return "NormalFixed_29bits"
	case Extended11bits:
		return "Extended_11bits"
	case Extended29bits:
		return "Extended_29bits"
	case Mixed11bits:
		return "Mixed_11bits"
	case Mixed29bits:
		return "Mixed_29bits"
	default:
		return fmt.Sprintf("AddressMode(%d)", int(m))
	}
}

func (m AddressMode) is29bits() bool {
	switch m {
	case Normal29bits, NormalFixed29bits, Extended29bits, Mixed29bits:
		return true
	default:
		return false
	}
}

// TargetAddressType distinguishes a 1-to-1 (Physical) send from a 1-to-N
// (Functional) send.
type TargetAddressType int

const (
	Physical TargetAddressType = iota
	Functional
)

// NormalFixed/Mixed 29-bit ID components, per ISO 15765-2 §C.3/C.4.
const (
	normalFixedPhysicalByte = 0xDA
	normalFixedFunctional   = 0xDB
	mixedPhysicalByte       = 0xCE
	mixedFunctionalByte     = 0xCD
	isoPriorityBits         = 0x18000000
)

// AddressConfig carries the subset of identifiers needed to build an
// Address for a given AddressMode. Fields irrelevant to the chosen mode are
// ignored.
type AddressConfig struct {
	Mode              AddressMode
	TxID              *uint32
	RxID              *uint32
	TargetAddress     *uint8
	SourceAddress     *uint8
	AddressExtension  *uint8
}

// Address is an immutable, validated N_AI (Network Addressing Information):
// the addressing variant plus the identifiers it requires, along with
// precomputed arbitration IDs and a payload prefix.
type Address struct {
	mode AddressMode

	txID, rxID                     uint32
	targetAddress, sourceAddress    uint8
	addressExtension                uint8
	hasTxID, hasRxID                bool
	hasTA, hasSA, hasAE             bool

	is29bits bool

	txArbIDPhysical, txArbIDFunctional uint32
	rxArbIDPhysical, rxArbIDFunctional uint32

	txPayloadPrefix []byte
	rxPrefixSize    int
}

// ConfigError wraps an address/parameter construction failure.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// NewAddress validates cfg and builds an Address. It fails synchronously
// with a *ConfigError when the identifiers required by cfg.Mode are
// missing, out of range, or (for Normal/Extended modes) tx_id == rx_id.
func NewAddress(cfg AddressConfig) (*Address, error) {
	a := &Address{
		mode:     cfg.Mode,
		is29bits: cfg.Mode.is29bits(),
	}
	if cfg.TxID != nil {
		a.txID, a.hasTxID = *cfg.TxID, true
	}
	if cfg.RxID != nil {
		a.rxID, a.hasRxID = *cfg.RxID, true
	}
	if cfg.TargetAddress != nil {
		a.targetAddress, a.hasTA = *cfg.TargetAddress, true
	}
	if cfg.SourceAddress != nil {
		a.sourceAddress, a.hasSA = *cfg.SourceAddress, true
	}
	if cfg.AddressExtension != nil {
		a.addressExtension, a.hasAE = *cfg.AddressExtension, true
	}

	if err := a.validate(); err != nil {
		return nil, err
	}

	a.txArbIDPhysical = a.computeTxArbitrationID(Physical)
	a.txArbIDFunctional = a.computeTxArbitrationID(Functional)
	a.rxArbIDPhysical = a.computeRxArbitrationID(Physical)
	a.rxArbIDFunctional = a.computeRxArbitrationID(Functional)

	switch a.mode {
	case Extended11bits, Extended29bits:
		a.txPayloadPrefix = []byte{a.targetAddress}
		a.rxPrefixSize = 1
	case Mixed11bits, Mixed29bits:
		a.txPayloadPrefix = []byte{a.addressExtension}
		a.rxPrefixSize = 1
	}

	return a, nil
}

func (a *Address) validate() error {
	switch a.mode {
	case Normal11bits, Normal29bits:
		if !a.hasRxID || !a.hasTxID {
			return configErrorf("tx_id and rx_id must be specified for Normal addressing mode")
		}
		if a.rxID == a.txID {
			return configErrorf("tx_id and rx_id must be different for Normal addressing mode")
		}
	case NormalFixed29bits:
		if !a.hasTA || !a.hasSA {
			return configErrorf("target_address and source_address must be specified for NormalFixed_29bits addressing")
		}
	case Extended11bits, Extended29bits:
		if !a.hasTA || !a.hasRxID || !a.hasTxID {
			return configErrorf("target_address, rx_id and tx_id must be specified for Extended addressing mode")
		}
		if a.rxID == a.txID {
			return configErrorf("tx_id and rx_id must be different")
		}
	case Mixed11bits:
		if !a.hasRxID || !a.hasTxID || !a.hasAE {
			return configErrorf("rx_id, tx_id and address_extension must be specified for Mixed_11bits addressing mode")
		}
	case Mixed29bits:
		if !a.hasTA || !a.hasSA || !a.hasAE {
			return configErrorf("target_address, source_address and address_extension must be specified for Mixed_29bits addressing mode")
		}
	default:
		return configErrorf("addressing mode %v is not valid", a.mode)
	}

	if a.hasTxID && !a.is29bits && a.txID > can.MaxStandardID {
		return configErrorf("tx_id must be at most 0x7FF for an 11-bit identifier")
	}
	if a.hasRxID && !a.is29bits && a.rxID > can.MaxStandardID {
		return configErrorf("rx_id must be at most 0x7FF for an 11-bit identifier")
	}
	return nil
}

func (a *Address) computeTxArbitrationID(t TargetAddressType) uint32 {
	switch a.mode {
	case NormalFixed29bits:
		byte23_16 := uint32(normalFixedPhysicalByte)
		if t == Functional {
			byte23_16 = normalFixedFunctional
		}
		return isoPriorityBits | (byte23_16 << 16) | (uint32(a.targetAddress) << 8) | uint32(a.sourceAddress)
	case Mixed29bits:
		byte23_16 := uint32(mixedPhysicalByte)
		if t == Functional {
			byte23_16 = mixedFunctionalByte
		}
		return isoPriorityBits | (byte23_16 << 16) | (uint32(a.targetAddress) << 8) | uint32(a.sourceAddress)
	default:
		return a.txID
	}
}

func (a *Address) computeRxArbitrationID(t TargetAddressType) uint32 {
	switch a.mode {
	case NormalFixed29bits:
		byte23_16 := uint32(normalFixedPhysicalByte)
		if t == Functional {
			byte23_16 = normalFixedFunctional
		}
		return isoPriorityBits | (byte23_16 << 16) | (uint32(a.sourceAddress) << 8) | uint32(a.targetAddress)
	case Mixed29bits:
		byte23_16 := uint32(mixedPhysicalByte)
		if t == Functional {
			byte23_16 = mixedFunctionalByte
		}
		return isoPriorityBits | (byte23_16 << 16) | (uint32(a.sourceAddress) << 8) | uint32(a.targetAddress)
	default:
		return a.rxID
	}
}

// Mode returns the addressing variant.
func (a *Address) Mode() AddressMode { return a.mode }

// Is29Bits reports whether this address uses 29-bit (extended) arbitration
// identifiers on the wire.
func (a *Address) Is29Bits() bool { return a.is29bits }

// TxArbitrationID returns the arbitration ID used to transmit for the given
// target address type.
func (a *Address) TxArbitrationID(t TargetAddressType) uint32 {
	if t == Functional {
		return a.txArbIDFunctional
	}
	return a.txArbIDPhysical
}

// TxPayloadPrefix returns the 0-or-1 byte prefix prepended to every outgoing
// PDU payload (the target address byte for Extended modes, the address
// extension byte for Mixed modes).
func (a *Address) TxPayloadPrefix() []byte { return a.txPayloadPrefix }

// RxPrefixSize returns how many payload bytes (0 or 1) precede the PDU on
// incoming frames.
func (a *Address) RxPrefixSize() int { return a.rxPrefixSize }

// Accepts reports whether frame is addressed to this endpoint, per the
// variant-specific N_AI rules of §4.B.
func (a *Address) Accepts(frame can.Frame) bool {
	if frame.IsExtendedID != a.is29bits {
		return false
	}
	switch a.mode {
	case Normal11bits, Normal29bits:
		return frame.ArbitrationID == a.rxID
	case Extended11bits, Extended29bits:
		if len(frame.Data) == 0 {
			return false
		}
		return frame.ArbitrationID == a.rxID && frame.Data[0] == a.sourceAddress
	case NormalFixed29bits:
		midByte := (frame.ArbitrationID >> 16) & 0xFF
		return (midByte == normalFixedPhysicalByte || midByte == normalFixedFunctional) &&
			(frame.ArbitrationID&0xFF00)>>8 == uint32(a.sourceAddress) &&
			frame.ArbitrationID&0xFF == uint32(a.targetAddress)
	case Mixed11bits:
		if len(frame.Data) == 0 {
			return false
		}
		return frame.ArbitrationID == a.rxID && frame.Data[0] == a.addressExtension
	case Mixed29bits:
		if len(frame.Data) == 0 {
			return false
		}
		midByte := (frame.ArbitrationID >> 16) & 0xFF
		return (midByte == mixedPhysicalByte || midByte == mixedFunctionalByte) &&
			(frame.ArbitrationID&0xFF00)>>8 == uint32(a.sourceAddress) &&
			frame.ArbitrationID&0xFF == uint32(a.targetAddress) &&
			frame.Data[0] == a.addressExtension
	default:
		return false
	}
}

// String renders the address mode and configured identifiers, formatting
// tx_id/rx_id with a width that matches whether the address is 29-bit or
// 11-bit, since a fixed two-hex-digit format would truncate IDs above one
// byte.
func (a *Address) String() string {
	idWidth := 3
	if a.is29bits {
		idWidth = 8
	}
	s := "[" + a.mode.String()
	if a.hasTA {
		s += fmt.Sprintf(" target_address:0x%02X", a.targetAddress)
	}
	if a.hasSA {
		s += fmt.Sprintf(" source_address:0x%02X", a.sourceAddress)
	}
	if a.hasAE {
		s += fmt.Sprintf(" address_extension:0x%02X", a.addressExtension)
	}
	if a.hasTxID {
		s += fmt.Sprintf(" tx_id:0x%0*X", idWidth, a.txID)
	}
	if a.hasRxID {
		s += fmt.Sprintf(" rx_id:0x%0*X", idWidth, a.rxID)
	}
	return s + "]"
}

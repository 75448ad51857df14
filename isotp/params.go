package isotp

// Params holds the configurable engine parameters described in §3. Zero
// value is not meaningful; use DefaultParams and override selectively.
type Params struct {
	StMin                     uint8
	BlockSize                 uint8
	SquashStMinRequirement    bool
	RxFlowControlTimeoutMs    uint32
	RxConsecutiveFrameTimeoutMs uint32
	TxPadding                 *uint8
	WftMax                    uint32 // 0 means Wait flow control frames are not supported at all
	TxDataLength              int
	TxDataMinLength           int // 0 means unset
	MaxFrameSize              uint32
	CanFD                     bool
}

var legalTxDataLengths = map[int]bool{8: true, 12: true, 16: true, 20: true, 24: true, 32: true, 48: true, 64: true}

var legalTxDataMinLengths = map[int]bool{
	1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true,
	12: true, 16: true, 20: true, 24: true, 32: true, 48: true, 64: true,
}

// DefaultParams returns the §3 defaults.
func DefaultParams() Params {
	return Params{
		StMin:                       0,
		BlockSize:                   8,
		SquashStMinRequirement:      false,
		RxFlowControlTimeoutMs:      1000,
		RxConsecutiveFrameTimeoutMs: 1000,
		WftMax:                      0,
		TxDataLength:                8,
		MaxFrameSize:                4095,
		CanFD:                       false,
	}
}

// Validate checks all parameter constraints from §3/§6, returning a
// *ConfigError describing the first violation found.
func (p Params) Validate() error {
	if p.TxPadding != nil && *p.TxPadding > 0xFF {
		// unreachable for uint8, kept for symmetry with the source's
		// explicit byte-range check.
		return configErrorf("tx_padding must be between 0x00 and 0xFF")
	}
	if !legalTxDataLengths[p.TxDataLength] {
		return configErrorf("tx_data_length must be one of 8, 12, 16, 20, 24, 32, 48, 64")
	}
	if p.TxDataMinLength != 0 {
		if !legalTxDataMinLengths[p.TxDataMinLength] {
			return configErrorf("tx_data_min_length must be one of 1..8, 12, 16, 20, 24, 32, 48, 64")
		}
		if p.TxDataMinLength > p.TxDataLength {
			return configErrorf("tx_data_min_length cannot be greater than tx_data_length")
		}
	}
	return nil
}

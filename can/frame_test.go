package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_Validate(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{
			name:  "standard frame with data",
			frame: Frame{ArbitrationID: 0x123, DLC: 2, Data: []byte{0xDE, 0xAD}},
		},
		{
			name:  "extended RTR, zero length",
			frame: Frame{ArbitrationID: 0x1ABCDEFF, IsExtendedID: true, IsRemoteFrame: true},
		},
		{
			name:  "FD frame with a 12 byte payload",
			frame: Frame{ArbitrationID: 0x1, IsFD: true, Data: make([]byte, 12)},
		},
		{
			name:    "standard id out of range",
			frame:   Frame{ArbitrationID: 0x800},
			wantErr: true,
		},
		{
			name:    "extended id out of range",
			frame:   Frame{ArbitrationID: 0x20000000, IsExtendedID: true},
			wantErr: true,
		},
		{
			name:    "remote and error frame",
			frame:   Frame{ArbitrationID: 1, IsRemoteFrame: true, IsErrorFrame: true},
			wantErr: true,
		},
		{
			name:    "remote frame carrying data",
			frame:   Frame{ArbitrationID: 1, IsRemoteFrame: true, Data: []byte{1}},
			wantErr: true,
		},
		{
			name:    "bitrate switch without FD",
			frame:   Frame{ArbitrationID: 1, BitrateSwitch: true},
			wantErr: true,
		},
		{
			name:    "classical DLC mismatch",
			frame:   Frame{ArbitrationID: 1, DLC: 3, Data: []byte{1, 2}},
			wantErr: true,
		},
		{
			name:    "classical frame too long",
			frame:   Frame{ArbitrationID: 1, DLC: 9, Data: make([]byte, 9)},
			wantErr: true,
		},
		{
			name:    "illegal FD length",
			frame:   Frame{ArbitrationID: 1, IsFD: true, Data: make([]byte, 9)},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFrame_String(t *testing.T) {
	f := Frame{ArbitrationID: 0x123, DLC: 2, Data: []byte{0xDE, 0xAD}}
	assert.Equal(t, "123 [2] DE AD", f.String())

	rtr := Frame{ArbitrationID: 0x1ABCDEFF, IsExtendedID: true, IsRemoteFrame: true}
	assert.Equal(t, "1ABCDEFF [0] RTR", rtr.String())
}

func TestFrame_Equal(t *testing.T) {
	a := Frame{ArbitrationID: 1, DLC: 2, Data: []byte{1, 2}, Timestamp: 1.000, IsRx: true}
	b := Frame{ArbitrationID: 1, DLC: 2, Data: []byte{1, 2}, Timestamp: 1.004, IsRx: false}

	assert.False(t, a.Equal(b, 0.001, false), "default comparison should fail: direction and timestamp differ")
	assert.True(t, a.Equal(b, 0.01, true), "tolerant timestamp + ignored direction should match")
	assert.False(t, a.Equal(b, -1, false), "direction still compared when timestamp ignored")
}

func TestLen2DLC_DLC2Len_RoundTrip(t *testing.T) {
	for n := 0; n <= 64; n++ {
		dlc, err := Len2DLC(n)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, DLC2Len(dlc), n)
	}
	_, err := Len2DLC(65)
	assert.Error(t, err)
}

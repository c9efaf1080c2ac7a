package i2c

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestGenericBus_Tx(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x70, W: []byte{0x35, 0x17}},
			{Addr: 0x70, W: []byte{0x78, 0x66}},
			{Addr: 0x70, R: []byte{0x66, 0x66, 0x93, 0xBE, 0xEF, 0x92}},
		},
	}
	bus := NewGenericBus(pb)
	ctx := context.Background()
	require.NoError(t, bus.SetSpeed(ctx, 400_000))
	require.NoError(t, bus.WriteToAddr(ctx, 0x70, []byte{0x35, 0x17}))
	require.NoError(t, bus.WriteToAddr(ctx, 0x70, []byte{0x78, 0x66}))
	buf := make([]byte, 6)
	require.NoError(t, bus.ReadFromAddr(ctx, 0x70, buf))
	assert.Equal(t, []byte{0x66, 0x66, 0x93, 0xBE, 0xEF, 0x92}, buf)
	assert.NoError(t, bus.Release(ctx))
	assert.NoError(t, bus.Close())
}

func TestGenericBus_TxError(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x70, W: []byte{0x35, 0x17}}},
		DontPanic: true,
	}
	bus := NewGenericBus(pb)
	err := bus.WriteToAddr(context.Background(), 0x44, []byte{0x35, 0x17})
	assert.ErrorContains(t, err, "could not write to i2c bus 44")
}

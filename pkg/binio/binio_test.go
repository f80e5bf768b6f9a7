package binio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type badRW struct{}

func (w *badRW) Write(p []byte) (int, error) {
	return 0, errors.New("it always fails")
}

func (w *badRW) Read(p []byte) (int, error) {
	return w.Write(p)
}

func TestWriteU64LE(t *testing.T) {
	var val uint64 = 0xbadc0de15a11dead
	bin := []byte{0xad, 0xde, 0x11, 0x5a, 0xe1, 0x0d, 0xdc, 0xba}

	bw := NewBufBinWriter()
	bw.WriteU64LE(val)
	assert.Nil(t, bw.Error())
	assert.Equal(t, bin, bw.Bytes())

	br := NewBinReaderFromBuf(bin)
	assert.Equal(t, val, br.ReadU64LE())
	assert.Nil(t, br.Err)
}

func TestWriteU32LE(t *testing.T) {
	var val uint32 = 0xdeadbeef
	bin := []byte{0xef, 0xbe, 0xad, 0xde}

	bw := NewBufBinWriter()
	bw.WriteU32LE(val)
	assert.Equal(t, bin, bw.Bytes())

	br := NewBinReaderFromBuf(bin)
	assert.Equal(t, val, br.ReadU32LE())
	assert.Nil(t, br.Err)
}

func TestWriteU16LEAndBE(t *testing.T) {
	var val uint16 = 0xbabe

	bw := NewBufBinWriter()
	bw.WriteU16LE(val)
	assert.Equal(t, []byte{0xbe, 0xba}, bw.Bytes())
	br := NewBinReaderFromBuf(bw.Bytes())
	assert.Equal(t, val, br.ReadU16LE())

	bw = NewBufBinWriter()
	bw.WriteU16BE(val)
	assert.Equal(t, []byte{0xba, 0xbe}, bw.Bytes())
	br = NewBinReaderFromBuf(bw.Bytes())
	assert.Equal(t, val, br.ReadU16BE())
}

func TestWriteByteAndBool(t *testing.T) {
	bw := NewBufBinWriter()
	bw.WriteB(0xa5)
	bw.WriteBool(true)
	bw.WriteBool(false)
	assert.Equal(t, []byte{0xa5, 0x01, 0x00}, bw.Bytes())

	br := NewBinReaderFromBuf(bw.Bytes())
	assert.Equal(t, byte(0xa5), br.ReadB())
	assert.True(t, br.ReadBool())
	assert.False(t, br.ReadBool())
	assert.Nil(t, br.Err)
}

func TestReadLEErrors(t *testing.T) {
	bin := []byte{0xad, 0xde, 0x11, 0x5a, 0xe1, 0x0d, 0xdc, 0xba}
	br := NewBinReaderFromBuf(bin)
	_ = br.ReadU64LE()
	assert.Nil(t, br.Err)

	assert.Equal(t, uint64(0), br.ReadU64LE())
	assert.Equal(t, uint32(0), br.ReadU32LE())
	assert.Equal(t, uint16(0), br.ReadU16LE())
	assert.Equal(t, byte(0), br.ReadB())
	assert.False(t, br.ReadBool())
	assert.NotNil(t, br.Err)
}

func TestVarUintRoundTrip(t *testing.T) {
	cases := []struct {
		val    uint64
		length int
		prefix byte
	}{
		{1, 1, 0},
		{1000, 3, 0xfd},
		{100000, 5, 0xfe},
		{1000000000000, 9, 0xff},
	}
	for _, c := range cases {
		bw := NewBufBinWriter()
		bw.WriteVarUint(c.val)
		require.NoError(t, bw.Error())
		buf := bw.Bytes()
		require.Equal(t, c.length, len(buf))
		if c.prefix != 0 {
			require.Equal(t, c.prefix, buf[0])
		}
		br := NewBinReaderFromBuf(buf)
		require.Equal(t, c.val, br.ReadVarUint())
		require.NoError(t, br.Err)
	}
}

func TestVarBytesRoundTrip(t *testing.T) {
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = byte(i)
	}
	w := NewBufBinWriter()
	w.WriteVarBytes(buf)
	require.NoError(t, w.Error())
	data := w.Bytes()

	t.Run("NoLimit", func(t *testing.T) {
		r := NewBinReaderFromBuf(data)
		require.Equal(t, buf, r.ReadVarBytes())
		require.NoError(t, r.Err)
	})
	t.Run("MatchingLimit", func(t *testing.T) {
		r := NewBinReaderFromBuf(data)
		require.Equal(t, buf, r.ReadVarBytes(11))
		require.NoError(t, r.Err)
	})
	t.Run("MismatchedLimit", func(t *testing.T) {
		r := NewBinReaderFromBuf(data)
		r.ReadVarBytes(10)
		require.Error(t, r.Err)
	})
}

func TestWriteString(t *testing.T) {
	str := "teststring"
	bw := NewBufBinWriter()
	bw.WriteString(str)
	assert.Nil(t, bw.Error())
	wrotebin := bw.Bytes()
	assert.Equal(t, len(str)+1, len(wrotebin))

	br := NewBinReaderFromBuf(wrotebin)
	assert.Equal(t, str, br.ReadString())
	assert.Nil(t, br.Err)
}

func TestBufBinWriterLenAndReset(t *testing.T) {
	bw := NewBufBinWriter()
	bw.WriteBytes([]byte{0xde})
	require.Equal(t, 1, bw.Len())

	bw.SetError(errors.New("oopsie"))
	require.Nil(t, bw.Bytes())

	bw.Reset()
	assert.Nil(t, bw.Error())
	require.Equal(t, 0, bw.Len())
}

func TestWriterErrHandling(t *testing.T) {
	bw := NewBinWriterFromIO(&badRW{})
	bw.WriteU32LE(0)
	assert.NotNil(t, bw.Error())
	bw.WriteU32LE(0)
	bw.WriteU16BE(0)
	bw.WriteVarUint(0)
	bw.WriteVarBytes([]byte{0x55, 0xaa})
	bw.WriteString("mesh")
	assert.NotNil(t, bw.Error())
}

func TestReaderErrHandling(t *testing.T) {
	br := NewBinReaderFromIO(&badRW{})
	br.ReadU32LE()
	assert.NotNil(t, br.Err)
	br.ReadU32LE()
	br.ReadU16BE()
	assert.Equal(t, uint64(0), br.ReadVarUint())
	assert.Equal(t, []byte{}, br.ReadVarBytes())
	assert.Equal(t, "", br.ReadString())
	assert.NotNil(t, br.Err)
}

func TestReadBytesPartial(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	r := NewBinReaderFromBuf(data)

	buf := make([]byte, 4)
	r.ReadBytes(buf)
	require.NoError(t, r.Err)
	require.Equal(t, data[:4], buf)

	buf = make([]byte, 3)
	r.ReadBytes(buf)
	require.NoError(t, r.Err)
	require.Equal(t, data[4:7], buf)

	buf = make([]byte, 2)
	r.ReadBytes(buf)
	require.Error(t, r.Err)
}

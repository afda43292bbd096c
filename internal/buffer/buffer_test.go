package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedWidthRoundTrip(t *testing.T) {
	w := New(32)
	w.WriteUByte(0xAB)
	w.WriteShort(-1234)
	w.WriteUShort(54321)
	w.WriteInt24(0x00123456)
	w.WriteInt(-1)
	w.WriteUInt(0xDEADBEEF)
	w.WriteLong(-9000000000000)

	r := NewReader(w.Bytes())
	b, err := r.ReadUByte()
	require.NoError(t, err)
	require.EqualValues(t, 0xAB, b)

	s, err := r.ReadShort()
	require.NoError(t, err)
	require.EqualValues(t, -1234, s)

	us, err := r.ReadUShort()
	require.NoError(t, err)
	require.EqualValues(t, 54321, us)

	i24, err := r.ReadInt24()
	require.NoError(t, err)
	require.EqualValues(t, 0x00123456, i24)

	i, err := r.ReadInt()
	require.NoError(t, err)
	require.EqualValues(t, -1, i)

	ui, err := r.ReadUInt()
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, ui)

	l, err := r.ReadLong()
	require.NoError(t, err)
	require.EqualValues(t, -9000000000000, l)
}

func TestLittleEndianRoundTrip(t *testing.T) {
	w := New(8)
	w.WriteShortLE(-500)
	w.WriteUShortLE(60000)
	w.WriteIntLE(-70000)

	r := NewReader(w.Bytes())
	s, err := r.ReadShortLE()
	require.NoError(t, err)
	require.EqualValues(t, -500, s)

	us, err := r.ReadUShortLE()
	require.NoError(t, err)
	require.EqualValues(t, 60000, us)

	i, err := r.ReadIntLE()
	require.NoError(t, err)
	require.EqualValues(t, -70000, i)
}

func TestRSModifierRoundTrip(t *testing.T) {
	w := New(16)
	w.WriteByteA(42)
	w.WriteByteC(42)
	w.WriteByteS(42)
	w.WriteShortA(1000)
	w.WriteIntV1(0x11223344)
	w.WriteIntV2(0x11223344)

	r := NewReader(w.Bytes())
	a, err := r.ReadByteA()
	require.NoError(t, err)
	require.EqualValues(t, 42, a)

	c, err := r.ReadByteC()
	require.NoError(t, err)
	require.EqualValues(t, 42, c)

	s, err := r.ReadByteS()
	require.NoError(t, err)
	require.EqualValues(t, 42, s)

	sa, err := r.ReadShortA()
	require.NoError(t, err)
	require.EqualValues(t, 1000, sa)

	v1, err := r.ReadIntV1()
	require.NoError(t, err)
	require.EqualValues(t, 0x11223344, v1)

	v2, err := r.ReadIntV2()
	require.NoError(t, err)
	require.EqualValues(t, 0x11223344, v2)
}

func TestSmartEncodingRoundTrip(t *testing.T) {
	cases := []uint16{0, 1, 127, 128, 200, 32767}
	w := New(32)
	for _, c := range cases {
		w.WriteSmart(c)
	}
	r := NewReader(w.Bytes())
	for _, want := range cases {
		got, err := r.ReadSmart()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestBigSmartRoundTrip(t *testing.T) {
	cases := []int32{0, 100, 32766, 40000, 1000000}
	w := New(32)
	for _, c := range cases {
		w.WriteBigSmart(c)
	}
	r := NewReader(w.Bytes())
	for _, want := range cases {
		got, err := r.ReadBigSmart()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	w := New(32)
	w.WriteString("hello")
	w.WriteStringJagex("world")

	r := NewReader(w.Bytes())
	s1, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello", s1)

	s2, err := r.ReadStringJagex()
	require.NoError(t, err)
	require.Equal(t, "world", s2)
}

func TestBitAccessRoundTrip(t *testing.T) {
	w := New(32)
	w.StartBitAccess()
	w.WriteBits(1, 1)
	w.WriteBits(2, 3)
	w.WriteBits(5, 17)
	w.WriteBits(11, 2047)
	w.WriteBits(7, 99)
	w.EndBitAccess()

	r := NewReader(w.Bytes())
	r.StartBitAccess()
	v1, err := r.ReadBits(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, v1)

	v2, err := r.ReadBits(2)
	require.NoError(t, err)
	require.EqualValues(t, 3, v2)

	v3, err := r.ReadBits(5)
	require.NoError(t, err)
	require.EqualValues(t, 17, v3)

	v4, err := r.ReadBits(11)
	require.NoError(t, err)
	require.EqualValues(t, 2047, v4)

	v5, err := r.ReadBits(7)
	require.NoError(t, err)
	require.EqualValues(t, 99, v5)
}

func TestBytesReversed(t *testing.T) {
	w := New(8)
	w.WriteBytesReversed([]byte{1, 2, 3, 4})
	require.Equal(t, []byte{4, 3, 2, 1}, w.Bytes())
}

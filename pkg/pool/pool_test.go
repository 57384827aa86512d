package pool

import (
	"bytes"
	"io"
	"testing"

	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferDescriptor struct {
	*bytes.Reader
}

func (bufferDescriptor) Close() error { return nil }

func newBufferDescriptor(data []byte) Descriptor {
	return bufferDescriptor{bytes.NewReader(data)}
}

func TestPool_SetAndReadAt(t *testing.T) {
	p := NewPool()
	require.NoError(t, p.SetDescriptor(0, newBufferDescriptor([]byte("hello world"))))

	buf := make([]byte, 5)
	n, err := p.ReadAt(0, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
	assert.Equal(t, 1, p.Len())
}

func TestPool_ReadAtMissingIndexIsNotFound(t *testing.T) {
	p := NewPool()
	_, err := p.ReadAt(3, make([]byte, 1), 0)
	require.Error(t, err)
	assert.True(t, lvmerr.Is(err, lvmerr.NotFound))
}

func TestPool_SetDescriptorGrowsSparse(t *testing.T) {
	p := NewPool()
	require.NoError(t, p.SetDescriptor(2, newBufferDescriptor([]byte("pv2"))))
	assert.Equal(t, 3, p.Len())

	_, err := p.ReadAt(0, make([]byte, 1), 0)
	assert.True(t, lvmerr.Is(err, lvmerr.NotFound))

	buf := make([]byte, 3)
	n, err := p.ReadAt(2, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "pv2", string(buf))
}

func TestPool_RemoveDescriptor(t *testing.T) {
	p := NewPool()
	require.NoError(t, p.SetDescriptor(0, newBufferDescriptor([]byte("data"))))
	require.NoError(t, p.RemoveDescriptor(0))

	_, err := p.ReadAt(0, make([]byte, 1), 0)
	assert.True(t, lvmerr.Is(err, lvmerr.NotFound))

	err = p.RemoveDescriptor(0)
	assert.True(t, lvmerr.Is(err, lvmerr.NotFound))
}

func TestMMapDescriptor_ReadAtPastEndIsEOF(t *testing.T) {
	d := &MMapDescriptor{data: []byte("abc")}
	buf := make([]byte, 1)
	_, err := d.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)
}

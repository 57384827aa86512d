package handle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bgrewell/lvm-kit/pkg/checksum"
	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
	"github.com/bgrewell/lvm-kit/pkg/option"
	"github.com/bgrewell/lvm-kit/pkg/pool"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVGText = `
vg0 {
	id = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	extent_size = 8192

	physical_volumes {
		pv0 {
			id = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
			dev_size = 20480
			pe_start = 2048
			pe_count = 1
		}
	}

	logical_volumes {
		lv0 {
			id = "cccccccccccccccccccccccccccccccccccccc"
			segment_count = 1

			segment1 {
				start_extent = 0
				extent_count = 1
				type = "striped"
				stripe_count = 1
				stripes = ["pv0", 0]
			}
		}
	}
}
`

const metadataAreaFileOffset = 4096
const metadataTextOffset = 512 // relative to the metadata area's own start

func buildImage(t *testing.T) []byte {
	t.Helper()

	text := []byte(testVGText)
	const imageSize = metadataAreaFileOffset + 512 + 8192
	img := make([]byte, imageSize)

	// --- label sector ---
	sector := img[0:512]
	copy(sector[0:8], "LABELONE")
	binary.LittleEndian.PutUint32(sector[20:24], 32)
	copy(sector[24:32], "LVM2 001")

	body := sector[32:]
	copy(body[0:32], "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"[:32])
	binary.LittleEndian.PutUint64(body[32:40], 20480*512)
	cursor := body[40:]
	// data area
	binary.LittleEndian.PutUint64(cursor[0:8], 2048*512)
	binary.LittleEndian.PutUint64(cursor[8:16], 18432*512)
	cursor = cursor[16:]
	// data area terminator
	cursor = cursor[16:]
	// metadata area descriptor
	binary.LittleEndian.PutUint64(cursor[0:8], metadataAreaFileOffset)
	binary.LittleEndian.PutUint64(cursor[8:16], 512+8192)
	cursor = cursor[16:]
	// metadata area terminator
	cursor = cursor[16:]

	// --- metadata area header ---
	header := img[metadataAreaFileOffset : metadataAreaFileOffset+512]
	copy(header[4:20], "\x20LVM2\x20x[5A%r0N*>")
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint64(header[24:32], metadataTextOffset)
	binary.LittleEndian.PutUint64(header[32:40], uint64(len(text)))
	binary.LittleEndian.PutUint64(header[40:48], metadataTextOffset)
	binary.LittleEndian.PutUint64(header[48:56], uint64(len(text)))
	binary.LittleEndian.PutUint32(header[56:60], checksum.WeakCRC32(text, checksum.MetadataAreaSeed))
	crc := checksum.WeakCRC32(header[4:512], checksum.MetadataAreaSeed)
	binary.LittleEndian.PutUint32(header[0:4], crc)

	// --- metadata text ---
	copy(img[metadataAreaFileOffset+metadataTextOffset:], text)

	return img
}

func TestHandle_OpenPrimaryAndBindPool(t *testing.T) {
	img := buildImage(t)
	h := New(option.WithHandleLogger(logr.Discard()))

	require.Equal(t, StateFresh, h.State())
	require.NoError(t, h.OpenPrimary(bytes.NewReader(img), AccessRead))
	require.Equal(t, StateMetadataLoaded, h.State())

	vg, err := h.VolumeGroup()
	require.NoError(t, err)
	assert.Equal(t, "vg0", vg.Name)
	require.Len(t, vg.PhysicalVolumes, 1)

	names, err := h.PhysicalVolumeNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"pv0"}, names)

	p := pool.NewPool()
	require.NoError(t, p.SetDescriptor(0, mustDescriptor(img)))
	require.NoError(t, h.BindPool(p))
	require.Equal(t, StatePoolBound, h.State())

	bound, err := h.Pool()
	require.NoError(t, err)
	assert.Equal(t, p, bound)
}

func TestHandle_OpenPrimaryTwiceIsAlreadySet(t *testing.T) {
	img := buildImage(t)
	h := New(option.WithHandleLogger(logr.Discard()))
	require.NoError(t, h.OpenPrimary(bytes.NewReader(img), AccessRead))

	err := h.OpenPrimary(bytes.NewReader(img), AccessRead)
	require.Error(t, err)
	assert.True(t, lvmerr.Is(err, lvmerr.AlreadySet))
}

func TestHandle_BindPoolBeforeMetadataIsRejected(t *testing.T) {
	h := New(option.WithHandleLogger(logr.Discard()))
	err := h.BindPool(pool.NewPool())
	require.Error(t, err)
	assert.True(t, lvmerr.Is(err, lvmerr.AlreadySet))
}

func TestHandle_BindPoolCountMismatchIsUnsupported(t *testing.T) {
	img := buildImage(t)
	h := New(option.WithHandleLogger(logr.Discard()))
	require.NoError(t, h.OpenPrimary(bytes.NewReader(img), AccessRead))

	p := pool.NewPool()
	err := h.BindPool(p)
	require.Error(t, err)
	assert.True(t, lvmerr.Is(err, lvmerr.Unsupported))
}

func TestHandle_CloseIsIdempotent(t *testing.T) {
	h := New(option.WithHandleLogger(logr.Discard()))
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, StateClosed, h.State())
}

func TestHandle_OpenPrimaryWithWriteAccessIsUnsupported(t *testing.T) {
	img := buildImage(t)
	h := New(option.WithHandleLogger(logr.Discard()))

	err := h.OpenPrimary(bytes.NewReader(img), AccessWrite)
	require.Error(t, err)
	assert.True(t, lvmerr.Is(err, lvmerr.Unsupported))
	assert.Equal(t, StateFresh, h.State())
}

func TestHandle_OpenPrimaryObservesAbortFlagOnEntry(t *testing.T) {
	img := buildImage(t)
	flag := option.NewAbortFlag()
	h := New(option.WithHandleLogger(logr.Discard()), option.WithHandleAbortFlag(flag))

	flag.Signal()

	err := h.OpenPrimary(bytes.NewReader(img), AccessRead)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lvmerr.ErrAborted))
	assert.Equal(t, StateFresh, h.State())
}

func TestHandle_SignalAbortWithoutSharedFlagStillCancels(t *testing.T) {
	img := buildImage(t)
	h := New(option.WithHandleLogger(logr.Discard()))

	h.SignalAbort()

	err := h.OpenPrimary(bytes.NewReader(img), AccessRead)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lvmerr.ErrAborted))
}

type closingReaderAt struct {
	*bytes.Reader
	closed bool
}

func (c *closingReaderAt) Close() error {
	c.closed = true
	return nil
}

func mustDescriptor(data []byte) pool.Descriptor {
	return &closingReaderAt{Reader: bytes.NewReader(data)}
}

// Package pool defines the storage abstraction a Handle binds its volume
// group's physical volumes against: a small, indexed set of byte-addressable
// descriptors, each independently seekable and readable.
package pool

import (
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/bgrewell/lvm-kit/pkg/lvmerr"
)

// Pool is the storage abstraction a Handle's physical volumes are bound
// against. Index i of a Pool corresponds to index i of a VolumeGroup's
// PhysicalVolumes slice; callers are responsible for keeping the two in
// step, which pkg/handle enforces at bind time.
//
// Implementations own mutual exclusion per descriptor: concurrent ReadAt
// calls against the same index must not interleave their underlying I/O.
type Pool interface {
	// Len returns the number of descriptors currently registered.
	Len() int
	// ReadAt reads len(p) bytes from the descriptor at index, starting at
	// offset, following io.ReaderAt's contract.
	ReadAt(index int, p []byte, offset int64) (int, error)
	// SetDescriptor registers or replaces the descriptor at index.
	SetDescriptor(index int, d Descriptor) error
	// RemoveDescriptor unregisters the descriptor at index.
	RemoveDescriptor(index int) error
}

// Descriptor is a single byte-addressable backing store: a file or a block
// device standing in for one physical volume.
type Descriptor interface {
	io.ReaderAt
	io.Closer
}

// FileDescriptor is a Descriptor backed by a plain *os.File, read directly
// with pread-style ReadAt calls.
type FileDescriptor struct {
	file *os.File
}

// NewFileDescriptor wraps an already-open file as a Descriptor. The pool
// takes ownership of closing it.
func NewFileDescriptor(f *os.File) *FileDescriptor {
	return &FileDescriptor{file: f}
}

// OpenFileDescriptor opens path read-only and wraps it as a Descriptor.
func OpenFileDescriptor(path string) (*FileDescriptor, error) {
	const op = "pool.OpenFileDescriptor"
	f, err := os.Open(path)
	if err != nil {
		return nil, lvmerr.Wrap(lvmerr.IoError, op, err)
	}
	return NewFileDescriptor(f), nil
}

func (d *FileDescriptor) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

func (d *FileDescriptor) Close() error {
	return d.file.Close()
}

// MMapDescriptor is a Descriptor backed by a read-only memory-mapped file,
// for callers who want page-cache-backed random access without repeated
// syscalls per read.
type MMapDescriptor struct {
	file *os.File
	data mmap.MMap
}

// OpenMMapDescriptor opens path read-only and memory-maps its entire
// contents.
func OpenMMapDescriptor(path string) (*MMapDescriptor, error) {
	const op = "pool.OpenMMapDescriptor"

	f, err := os.Open(path)
	if err != nil {
		return nil, lvmerr.Wrap(lvmerr.IoError, op, err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, lvmerr.Wrap(lvmerr.IoError, op, err)
	}

	return &MMapDescriptor{file: f, data: data}, nil
}

func (d *MMapDescriptor) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, lvmerr.New(lvmerr.OutOfBounds, "pool.MMapDescriptor.ReadAt", "negative offset %d", off)
	}
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}

	n := copy(p, d.data[off:])
	var err error
	if n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (d *MMapDescriptor) Close() error {
	if err := d.data.Unmap(); err != nil {
		return err
	}
	return d.file.Close()
}

// memoryPool is a Pool backed by an ordered, sparsely-populated slice of
// Descriptors, each guarded by its own mutex so ReadAt calls against
// different indices never block one another.
type memoryPool struct {
	mu      sync.RWMutex
	entries []*poolEntry
}

type poolEntry struct {
	mu sync.Mutex
	d  Descriptor
}

// NewPool constructs an empty Pool. Descriptors are added with
// SetDescriptor.
func NewPool() Pool {
	return &memoryPool{}
}

func (p *memoryPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

func (p *memoryPool) ReadAt(index int, buf []byte, offset int64) (int, error) {
	const op = "pool.memoryPool.ReadAt"

	p.mu.RLock()
	if index < 0 || index >= len(p.entries) || p.entries[index] == nil || p.entries[index].d == nil {
		p.mu.RUnlock()
		return 0, lvmerr.New(lvmerr.NotFound, op, "no descriptor registered at index %d", index)
	}
	entry := p.entries[index]
	p.mu.RUnlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.d.ReadAt(buf, offset)
}

func (p *memoryPool) SetDescriptor(index int, d Descriptor) error {
	const op = "pool.memoryPool.SetDescriptor"
	if index < 0 {
		return lvmerr.New(lvmerr.InvalidArgument, op, "negative index %d", index)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.entries) <= index {
		p.entries = append(p.entries, nil)
	}
	p.entries[index] = &poolEntry{d: d}
	return nil
}

func (p *memoryPool) RemoveDescriptor(index int) error {
	const op = "pool.memoryPool.RemoveDescriptor"

	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.entries) || p.entries[index] == nil {
		return lvmerr.New(lvmerr.NotFound, op, "no descriptor registered at index %d", index)
	}
	entry := p.entries[index]
	p.entries[index] = nil

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.d != nil {
		return entry.d.Close()
	}
	return nil
}

// Package option holds the functional-options types shared by pkg/handle
// and the root lvmkit package, plus the AbortFlag cancellation token a
// caller can wire into either one.
package option

import (
	"sync"

	"github.com/go-logr/logr"
)

// AbortFlag is a cancellation token for a Handle's abort flag. A caller
// retains one across goroutines, calling Signal from another goroutine
// while an open is in progress; the Handle checks Signaled at the entry of
// its long-running operations.
type AbortFlag struct {
	mu      sync.Mutex
	aborted bool
}

// NewAbortFlag returns a fresh, unsignaled AbortFlag.
func NewAbortFlag() *AbortFlag {
	return &AbortFlag{}
}

// Signal marks the flag aborted. Safe to call concurrently with, and more
// than once alongside, Signaled.
func (f *AbortFlag) Signal() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
}

// Signaled reports whether Signal has been called.
func (f *AbortFlag) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

// HandleOptions configures a handle.Handle's construction.
type HandleOptions struct {
	Logger logr.Logger
	Abort  *AbortFlag
}

// HandleOption configures HandleOptions.
type HandleOption func(*HandleOptions)

// WithHandleLogger sets the logger a Handle threads through label scanning
// and metadata parsing.
func WithHandleLogger(logger logr.Logger) HandleOption {
	return func(o *HandleOptions) {
		o.Logger = logger
	}
}

// WithHandleAbortFlag wires an AbortFlag into a Handle so a caller holding
// the same flag can cancel OpenPrimary from another goroutine. The flag is
// checked only on entry to OpenPrimary; a call already past that check runs
// to completion.
func WithHandleAbortFlag(flag *AbortFlag) HandleOption {
	return func(o *HandleOptions) {
		o.Abort = flag
	}
}

// OpenOptions configures lvmkit.Open.
type OpenOptions struct {
	Logger                 logr.Logger
	UseMemoryMappedVolumes bool
	ParseOnOpen            bool
	RequirePoolBinding     bool
	Abort                  *AbortFlag
}

// OpenOption configures OpenOptions.
type OpenOption func(*OpenOptions)

// WithLogger sets the logger threaded through label scanning, metadata
// parsing, and every logical volume read.
func WithLogger(logger logr.Logger) OpenOption {
	return func(o *OpenOptions) {
		o.Logger = logger
	}
}

// WithMemoryMappedVolumes opens every physical volume with
// pool.MMapDescriptor instead of pool.FileDescriptor, trading file
// descriptor read calls for page-cache-backed memory access.
func WithMemoryMappedVolumes(enabled bool) OpenOption {
	return func(o *OpenOptions) {
		o.UseMemoryMappedVolumes = enabled
	}
}

// WithParseOnOpen controls whether Open eagerly scans the primary label and
// parses its metadata text before returning. When set false, Open returns a
// VolumeGroup in its pre-parse state and the caller must call Parse
// explicitly before any other method will succeed.
func WithParseOnOpen(parseOnOpen bool) OpenOption {
	return func(o *OpenOptions) {
		o.ParseOnOpen = parseOnOpen
	}
}

// WithRequirePoolBinding controls whether Open binds physicalVolumePaths
// into a pool before returning. When set false (and metadata has already
// been parsed), Open returns a VolumeGroup whose logical volumes cannot yet
// be read; the caller must call BindPhysicalVolumes explicitly. Has no
// effect when combined with WithParseOnOpen(false), since binding requires
// the physical volume count learned from parsed metadata.
func WithRequirePoolBinding(require bool) OpenOption {
	return func(o *OpenOptions) {
		o.RequirePoolBinding = require
	}
}

// WithAbortFlag wires an AbortFlag into Open's underlying Handle, letting a
// caller cancel an open from another goroutine. The flag is checked once,
// when the metadata parse starts; a parse already past that check runs to
// completion.
func WithAbortFlag(flag *AbortFlag) OpenOption {
	return func(o *OpenOptions) {
		o.Abort = flag
	}
}

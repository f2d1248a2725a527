package refsearch

import (
	"errors"
	"fmt"
)

var errShortRead = errors.New("short read")

// ErrNoModules is returned by an all-modules search on a target with no
// loaded modules (or none matching the module filter).
var ErrNoModules = errors.New("couldn't get module list")

// RegionNotFoundError is returned when no memory region contains the
// requested address.
type RegionNotFoundError struct {
	Addr uint64
}

func (err *RegionNotFoundError) Error() string {
	return fmt.Sprintf("invalid memory page %#x", err.Addr)
}

// ModuleNotFoundError is returned when no loaded module contains the
// requested address.
type ModuleNotFoundError struct {
	Addr uint64
}

func (err *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("couldn't locate module for %#x", err.Addr)
}

// MemoryReadError is returned when the snapshot of a scan range can not be
// read from the target. It aborts the whole operation.
type MemoryReadError struct {
	Addr uint64
	Err  error
}

func (err *MemoryReadError) Error() string {
	return fmt.Sprintf("error reading memory at %#x: %v", err.Addr, err.Err)
}

func (err *MemoryReadError) Unwrap() error {
	return err.Err
}

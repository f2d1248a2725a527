package proc

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemRegion describes one contiguous mapping in the debuggee address space.
type MemRegion struct {
	Addr uint64
	Size uint64

	Read  bool
	Write bool
	Exec  bool

	Filename string
	Offset   uint64
}

// Target is a read-only view of a debuggee address space: its memory, its
// memory regions and its loaded modules.
type Target interface {
	MemoryReader

	// FindRegion returns the memory region containing addr.
	FindRegion(addr uint64) (MemRegion, bool)
	// FindModule returns the loaded module containing addr.
	FindModule(addr uint64) (*Module, bool)
	// Modules returns every loaded module, in load order.
	Modules() []Module
	// ModuleName returns the name of the module containing addr, used for
	// display only.
	ModuleName(addr uint64) (string, bool)
}

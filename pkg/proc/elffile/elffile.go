package elffile

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"

	"github.com/refscan/refscan/pkg/logflags"
	"github.com/refscan/refscan/pkg/proc"

	sys "golang.org/x/sys/unix"
)

// File presents an ELF executable or shared object as a scan target, laid
// out at its preferred virtual addresses. The whole file is mapped
// read-only; bytes inside the module span that no segment covers (BSS,
// alignment holes) read as zero.
type File struct {
	path string
	raw  []byte
	segs []segment
	mods *proc.ModuleTable
}

type segment struct {
	region proc.MemRegion
	filesz uint64
}

var _ proc.Target = &File{}

// Open maps the ELF file at path.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	raw, err := sys.Mmap(int(fh.Fd()), 0, int(fi.Size()), sys.PROT_READ, sys.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		sys.Munmap(raw)
		return nil, err
	}

	f := &File{path: path, raw: raw}
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		f.segs = append(f.segs, segment{
			region: proc.MemRegion{
				Addr: prog.Vaddr,
				Size: prog.Memsz,

				Read:  prog.Flags&elf.PF_R != 0,
				Write: prog.Flags&elf.PF_W != 0,
				Exec:  prog.Flags&elf.PF_X != 0,

				Filename: path,
				Offset:   prog.Off,
			},
			filesz: prog.Filesz,
		})
	}
	if len(f.segs) == 0 {
		sys.Munmap(raw)
		return nil, fmt.Errorf("%s: no loadable segments", path)
	}

	base := f.segs[0].region.Addr
	end := base
	for _, seg := range f.segs {
		if seg.region.Addr < base {
			base = seg.region.Addr
		}
		if segEnd := seg.region.Addr + seg.region.Size; segEnd > end {
			end = segEnd
		}
	}
	f.mods = proc.NewModuleTable([]proc.Module{
		{Base: base, Size: end - base, Name: filepath.Base(path)},
	})
	logflags.TargetLogger().Debugf("opened %s: %d segments, module %#x-%#x", path, len(f.segs), base, end)
	return f, nil
}

// Close unmaps the file.
func (f *File) Close() error {
	return sys.Munmap(f.raw)
}

// ReadMemory reads from the image as laid out in memory. The requested
// window must overlap the module span; holes inside it are zero-filled.
func (f *File) ReadMemory(buf []byte, addr uint64) (int, error) {
	mod := f.mods.Modules()[0]
	if addr >= mod.Base+mod.Size || addr+uint64(len(buf)) <= mod.Base {
		return 0, fmt.Errorf("read out of mapped range at %#x", addr)
	}
	for i := range buf {
		buf[i] = 0
	}
	for _, seg := range f.segs {
		lo, hi := seg.region.Addr, seg.region.Addr+seg.filesz
		if hi <= addr || lo >= addr+uint64(len(buf)) {
			continue
		}
		if lo < addr {
			lo = addr
		}
		if max := addr + uint64(len(buf)); hi > max {
			hi = max
		}
		off := seg.region.Offset + (lo - seg.region.Addr)
		copy(buf[lo-addr:hi-addr], f.raw[off:off+(hi-lo)])
	}
	return len(buf), nil
}

func (f *File) FindRegion(addr uint64) (proc.MemRegion, bool) {
	for _, seg := range f.segs {
		if addr >= seg.region.Addr && addr < seg.region.Addr+seg.region.Size {
			return seg.region, true
		}
	}
	return proc.MemRegion{}, false
}

func (f *File) FindModule(addr uint64) (*proc.Module, bool) {
	return f.mods.FindModule(addr)
}

func (f *File) Modules() []proc.Module {
	return f.mods.Modules()
}

func (f *File) ModuleName(addr uint64) (string, bool) {
	return f.mods.ModuleName(addr)
}

// ModuleTable exposes the module index, for name-prefix filtering.
func (f *File) ModuleTable() *proc.ModuleTable {
	return f.mods
}

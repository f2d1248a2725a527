package native

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/refscan/refscan/pkg/logflags"
	"github.com/refscan/refscan/pkg/proc"

	sys "golang.org/x/sys/unix"
)

// Process is a read-only view of a live process's address space. Memory is
// read through /proc/pid/mem, regions and modules come from /proc/pid/maps.
// The process is never ptrace-attached or stopped.
type Process struct {
	pid     int
	memfd   int
	regions []proc.MemRegion
	mods    *proc.ModuleTable
}

var _ proc.Target = &Process{}

// OpenProcess opens the address space of the process identified by pid.
func OpenProcess(pid int) (*Process, error) {
	mapsbuf, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	regions, err := parseMaps(string(mapsbuf))
	if err != nil {
		return nil, err
	}

	memfd, err := sys.Open(fmt.Sprintf("/proc/%d/mem", pid), sys.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	p := &Process{
		pid:     pid,
		memfd:   memfd,
		regions: regions,
		mods:    proc.NewModuleTable(modulesFromRegions(regions)),
	}
	logflags.TargetLogger().Debugf("opened process %d: %d regions, %d modules", pid, len(p.regions), len(p.mods.Modules()))
	return p, nil
}

// Pid returns the process ID.
func (p *Process) Pid() int {
	return p.pid
}

// Close releases the handle on the process's memory.
func (p *Process) Close() error {
	return sys.Close(p.memfd)
}

func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	tot := 0
	for tot < len(buf) {
		n, err := sys.Pread(p.memfd, buf[tot:], int64(addr)+int64(tot))
		if err != nil {
			return tot, err
		}
		if n == 0 {
			return tot, fmt.Errorf("short read at %#x", addr+uint64(tot))
		}
		tot += n
	}
	return tot, nil
}

func (p *Process) FindRegion(addr uint64) (proc.MemRegion, bool) {
	i := sort.Search(len(p.regions), func(i int) bool { return p.regions[i].Addr+p.regions[i].Size > addr })
	if i >= len(p.regions) || addr < p.regions[i].Addr {
		return proc.MemRegion{}, false
	}
	return p.regions[i], true
}

func (p *Process) FindModule(addr uint64) (*proc.Module, bool) {
	return p.mods.FindModule(addr)
}

func (p *Process) Modules() []proc.Module {
	return p.mods.Modules()
}

func (p *Process) ModuleName(addr uint64) (string, bool) {
	return p.mods.ModuleName(addr)
}

// ModuleTable exposes the module index, for name-prefix filtering.
func (p *Process) ModuleTable() *proc.ModuleTable {
	return p.mods
}

func parseMaps(mapsbuf string) ([]proc.MemRegion, error) {
	lines := strings.Split(mapsbuf, "\n")
	r := make([]proc.MemRegion, 0, len(lines))
	for i, line := range lines {
		if line == "" {
			continue
		}
		start, end, perm, offset, dev, filename, err := parseMapsLine(i+1, line)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(dev, "00:") {
			filename = ""
			offset = 0
		}
		r = append(r, proc.MemRegion{
			Addr: start,
			Size: end - start,

			Read:  perm[0] == 'r',
			Write: perm[1] == 'w',
			Exec:  perm[2] == 'x',

			Filename: filename,
			Offset:   offset,
		})
	}
	return r, nil
}

func parseMapsLine(lineno int, in string) (start, end uint64, perm string, offset uint64, dev, filename string, err error) {
	fields := strings.SplitN(in, " ", 6)
	if len(fields) < 5 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
		return
	}

	v := strings.Split(fields[0], "-")
	if len(v) != 2 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
		return
	}
	start, err = strconv.ParseUint(v[0], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}
	end, err = strconv.ParseUint(v[1], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	perm = fields[1]
	if len(perm) < 4 {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (permissions column too short)", lineno, in)
		return
	}

	offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		err = fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
		return
	}

	dev = fields[3]

	// fields[4] -> inode

	if len(fields) > 5 {
		filename = strings.TrimLeft(fields[5], " ")
	}
	return
}

// modulesFromRegions folds consecutive file-backed mappings of the same
// file into one module spanning from the first mapping to the last,
// alignment gaps included. Pseudo-files like [vdso] and [stack] are not
// modules.
func modulesFromRegions(regions []proc.MemRegion) []proc.Module {
	mods := []proc.Module{}
	lastFile := ""
	for _, region := range regions {
		if region.Filename == "" || strings.HasPrefix(region.Filename, "[") {
			lastFile = ""
			continue
		}
		if region.Filename == lastFile {
			m := &mods[len(mods)-1]
			m.Size = region.Addr + region.Size - m.Base
			continue
		}
		lastFile = region.Filename
		mods = append(mods, proc.Module{
			Base: region.Addr,
			Size: region.Size,
			Name: filepath.Base(region.Filename),
		})
	}
	return mods
}

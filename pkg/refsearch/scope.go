package refsearch

import (
	"fmt"

	"github.com/refscan/refscan/pkg/proc"
)

// ScopeKind selects which portion of the target address space a search
// covers.
type ScopeKind uint8

const (
	// ScopeRegion scans the memory region containing the request address.
	ScopeRegion ScopeKind = iota
	// ScopeModule scans the whole module containing the request address.
	ScopeModule
	// ScopeAllModules scans every loaded module.
	ScopeAllModules
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeRegion:
		return "region"
	case ScopeModule:
		return "module"
	case ScopeAllModules:
		return "allmodules"
	}
	return fmt.Sprintf("ScopeKind(%d)", uint8(k))
}

// Request describes one find operation.
type Request struct {
	// Addr is the address identifying the region or module to scan. It is
	// unused by ScopeAllModules.
	Addr uint64
	// Size optionally restricts a region scan to [Addr, Addr+Size),
	// clamped to the region boundary. Zero means the whole region.
	Size uint64
	// Scope selects the portion of the address space to scan.
	Scope ScopeKind
	// Name is the display name of the search, e.g. "calls".
	Name string
	// Silent suppresses failure diagnostics.
	Silent bool

	// UserData is passed to the predicate through the search context.
	UserData interface{}

	// ModulePrefix restricts an all-modules scan to modules whose name
	// starts with the prefix. Requires the target to expose a module
	// table; ignored otherwise.
	ModulePrefix string
	// Parallel scans the modules of an all-modules search concurrently.
	Parallel bool
	// Weight selects how per-range progress is folded into the overall
	// percentage.
	Weight WeightPolicy
}

// ScanRange is one concrete byte range produced by scope resolution.
type ScanRange struct {
	Start uint64
	Size  uint64
	// Label is the display name used for this range's progress reports.
	Label string
}

// resolveScope turns a request into the operation display name and the
// concrete ranges to scan, one per module for the all-modules scope.
func resolveScope(t proc.Target, req *Request) (string, []ScanRange, error) {
	switch req.Scope {
	case ScopeRegion:
		return resolveRegion(t, req)
	case ScopeModule:
		return resolveModule(t, req)
	case ScopeAllModules:
		return resolveAllModules(t, req)
	}
	return "", nil, fmt.Errorf("unknown scan scope %d", req.Scope)
}

func resolveRegion(t proc.Target, req *Request) (string, []ScanRange, error) {
	region, ok := t.FindRegion(req.Addr)
	if !ok || region.Size == 0 {
		return "", nil, &RegionNotFoundError{Addr: req.Addr}
	}

	// Assume the entire region is used, unless boundaries were supplied.
	scanStart, scanSize := region.Addr, region.Size
	if req.Size != 0 {
		maxsize := region.Size - (req.Addr - region.Addr)
		scanStart = req.Addr
		scanSize = req.Size
		if scanSize > maxsize {
			scanSize = maxsize
		}
	}

	name := fmt.Sprintf("%s (Region %s)", req.Name, addrLabel(t, scanStart))
	return name, []ScanRange{{Start: scanStart, Size: scanSize, Label: "Region Search"}}, nil
}

func resolveModule(t proc.Target, req *Request) (string, []ScanRange, error) {
	mod, ok := t.FindModule(req.Addr)
	if !ok {
		return "", nil, &ModuleNotFoundError{Addr: req.Addr}
	}

	name := fmt.Sprintf("%s (%s)", req.Name, addrLabel(t, mod.Base))
	return name, []ScanRange{{Start: mod.Base, Size: mod.Size, Label: "Module Search"}}, nil
}

func resolveAllModules(t proc.Target, req *Request) (string, []ScanRange, error) {
	mods := t.Modules()
	if req.ModulePrefix != "" {
		if mt, ok := t.(interface {
			ModuleTable() *proc.ModuleTable
		}); ok {
			if table := mt.ModuleTable(); table != nil {
				mods = table.FilterPrefix(req.ModulePrefix)
			}
		}
	}
	if len(mods) == 0 {
		return "", nil, ErrNoModules
	}

	ranges := make([]ScanRange, len(mods))
	for i := range mods {
		ranges[i] = ScanRange{Start: mods[i].Base, Size: mods[i].Size, Label: mods[i].Name}
	}
	return fmt.Sprintf("All Modules (%s)", req.Name), ranges, nil
}

// addrLabel names addr by its owning module if one is known, otherwise by
// its numeric value.
func addrLabel(t proc.Target, addr uint64) string {
	if name, ok := t.ModuleName(addr); ok {
		return name
	}
	return fmt.Sprintf("%#x", addr)
}

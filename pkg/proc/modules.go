package proc

import (
	"sort"
	"strings"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
)

// Module is a loaded executable or library image in the debuggee.
type Module struct {
	Base uint64
	Size uint64
	Name string
}

const moduleNameCacheSize = 64

// ModuleTable indexes the modules of a target by address and by name.
// Address lookups use a table sorted by base address, name labeling goes
// through a small LRU cache since ranges are relabeled repeatedly during a
// scan.
type ModuleTable struct {
	modules []Module
	sorted  []Module
	names   *trie.Trie
	labels  *lru.Cache
}

// NewModuleTable builds a table for mods. The load order of mods is
// preserved by Modules.
func NewModuleTable(mods []Module) *ModuleTable {
	t := &ModuleTable{
		modules: mods,
		sorted:  make([]Module, len(mods)),
		names:   trie.New(),
	}
	t.labels, _ = lru.New(moduleNameCacheSize)
	copy(t.sorted, mods)
	sort.Slice(t.sorted, func(i, j int) bool { return t.sorted[i].Base < t.sorted[j].Base })
	// The same image can be loaded from more than one path, so a name maps
	// to every module carrying it.
	byName := make(map[string][]int)
	for i := range mods {
		key := strings.ToLower(mods[i].Name)
		byName[key] = append(byName[key], i)
	}
	for key, idx := range byName {
		t.names.Add(key, idx)
	}
	return t
}

// Modules returns every module in load order.
func (t *ModuleTable) Modules() []Module {
	return t.modules
}

// FindModule returns the module containing addr.
func (t *ModuleTable) FindModule(addr uint64) (*Module, bool) {
	i := sort.Search(len(t.sorted), func(i int) bool { return t.sorted[i].Base+t.sorted[i].Size > addr })
	if i >= len(t.sorted) || addr < t.sorted[i].Base {
		return nil, false
	}
	m := t.sorted[i]
	return &m, true
}

// ModuleName returns the name of the module containing addr.
func (t *ModuleTable) ModuleName(addr uint64) (string, bool) {
	if name, ok := t.labels.Get(addr); ok {
		return name.(string), true
	}
	m, ok := t.FindModule(addr)
	if !ok {
		return "", false
	}
	t.labels.Add(addr, m.Name)
	return m.Name, true
}

// FilterPrefix returns the modules whose name starts with prefix, in load
// order. The match is case insensitive. An empty prefix returns every
// module.
func (t *ModuleTable) FilterPrefix(prefix string) []Module {
	if prefix == "" {
		return t.modules
	}
	keys := t.names.PrefixSearch(strings.ToLower(prefix))
	idx := make(map[int]bool, len(keys))
	for _, key := range keys {
		if node, ok := t.names.Find(key); ok {
			for _, i := range node.Meta().([]int) {
				idx[i] = true
			}
		}
	}
	r := make([]Module, 0, len(idx))
	for i := range t.modules {
		if idx[i] {
			r = append(r, t.modules[i])
		}
	}
	return r
}

package proc

import (
	"testing"
)

func testModules() []Module {
	return []Module{
		{Base: 0x400000, Size: 0x1000, Name: "app"},
		{Base: 0x7f0000000000, Size: 0x2000, Name: "libc.so"},
		{Base: 0x7f0000010000, Size: 0x1000, Name: "libm.so"},
	}
}

func TestModuleTableFind(t *testing.T) {
	table := NewModuleTable(testModules())

	mod, ok := table.FindModule(0x7f0000000800)
	if !ok || mod.Name != "libc.so" {
		t.Fatalf("expected libc.so, got %+v (ok=%v)", mod, ok)
	}
	if _, ok := table.FindModule(0x500000); ok {
		t.Errorf("found a module for an unmapped address")
	}
	if _, ok := table.FindModule(0x400000 + 0x1000); ok {
		t.Errorf("module end address is exclusive")
	}
}

func TestModuleTableName(t *testing.T) {
	table := NewModuleTable(testModules())

	// Twice, so the second lookup exercises the label cache.
	for i := 0; i < 2; i++ {
		name, ok := table.ModuleName(0x400010)
		if !ok || name != "app" {
			t.Fatalf("lookup %d: expected app, got %q (ok=%v)", i, name, ok)
		}
	}
	if _, ok := table.ModuleName(0xdead); ok {
		t.Errorf("named an unmapped address")
	}
}

func TestModuleTableFilterPrefix(t *testing.T) {
	table := NewModuleTable(testModules())

	libs := table.FilterPrefix("lib")
	if len(libs) != 2 {
		t.Fatalf("expected 2 modules with prefix lib, got %d", len(libs))
	}
	// Load order is preserved.
	if libs[0].Name != "libc.so" || libs[1].Name != "libm.so" {
		t.Errorf("wrong filter order: %v %v", libs[0].Name, libs[1].Name)
	}

	// Case insensitive.
	if got := table.FilterPrefix("LIBC"); len(got) != 1 {
		t.Errorf("case insensitive prefix match failed: %d", len(got))
	}

	if got := table.FilterPrefix(""); len(got) != 3 {
		t.Errorf("empty prefix should return every module, got %d", len(got))
	}
	if got := table.FilterPrefix("zzz"); len(got) != 0 {
		t.Errorf("expected no matches, got %d", len(got))
	}
}

// The same image loaded from two paths produces two modules with the same
// name; a prefix filter must return both.
func TestModuleTableFilterPrefixDuplicateNames(t *testing.T) {
	table := NewModuleTable([]Module{
		{Base: 0x400000, Size: 0x1000, Name: "app"},
		{Base: 0x7f0000000000, Size: 0x2000, Name: "libdup.so"},
		{Base: 0x7f0000010000, Size: 0x1000, Name: "libdup.so"},
	})

	dups := table.FilterPrefix("libdup")
	if len(dups) != 2 {
		t.Fatalf("expected both modules named libdup.so, got %d", len(dups))
	}
	if dups[0].Base != 0x7f0000000000 || dups[1].Base != 0x7f0000010000 {
		t.Errorf("wrong filter order: %#x %#x", dups[0].Base, dups[1].Base)
	}
}

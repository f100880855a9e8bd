// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package catalog_test

import (
	"testing"

	"github.com/creachadair/binder/catalog"
	"github.com/google/go-cmp/cmp"
)

func TestCatalogUsage(t *testing.T) {
	cat := catalog.New().Set("bind", 1).Set("bind_resp", 0x81).Set("stream", 2)

	checkLookup := func(name string, want uint32, wantOK bool) {
		t.Helper()
		got, ok := cat.Lookup(name)
		if got != want || ok != wantOK {
			t.Errorf("Lookup(%q): got (%#x, %v), want (%#x, %v)", name, got, ok, want, wantOK)
		}
	}
	checkLookup("bind", 1, true)
	checkLookup("bind_resp", 0x81, true)
	checkLookup("nonesuch", 0, false)

	if got := cat.Name(2); got != "stream" {
		t.Errorf("Name(2): got %q, want stream", got)
	}
	if got := cat.Name(0x99); got != "0x99" {
		t.Errorf("Name(0x99): got %q, want 0x99", got)
	}

	// Copies share the same mapping.
	cp := cat
	cp.Set("unbind", 4)
	checkLookup("unbind", 4, true)

	if diff := cmp.Diff(cat.Names(), []string{"bind", "bind_resp", "stream", "unbind"}); diff != "" {
		t.Errorf("Names (-got, +want):\n%s", diff)
	}
}

func TestReplace(t *testing.T) {
	cat := catalog.New().Set("a", 1).Set("b", 2)

	// Renaming an ID drops the old name.
	cat.Set("c", 1)
	if _, ok := cat.Lookup("a"); ok {
		t.Error("Lookup(a): found after its ID was renamed")
	}
	if got := cat.Name(1); got != "c" {
		t.Errorf("Name(1): got %q, want c", got)
	}

	// Renumbering a name drops the old ID.
	cat.Set("b", 3)
	if got := cat.Name(2); got != "0x2" {
		t.Errorf("Name(2): got %q, want 0x2", got)
	}
	if n := cat.Len(); n != 2 {
		t.Errorf("Len: got %d, want 2", n)
	}
}

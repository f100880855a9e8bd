// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines a mapping between mnemonic names and command IDs
// for a protocol. Names are not exchanged between peers on the wire; a
// catalog is used to render command IDs in logs and to resolve command names
// given on a command line.
//
// # Usage
//
// Construct a new empty catalog and set the commands of a protocol:
//
//	cat := catalog.New().Set("bind", 0x01).Set("bind_resp", 0x81)
//
// To recover the ID of a name, use Lookup:
//
//	id, ok := cat.Lookup("bind")
//
// To render an ID, use Name:
//
//	log.Printf("received %s", cat.Name(id))
//
// Name formats IDs that are not in the catalog as hexadecimal.
package catalog

import (
	"fmt"
	"maps"
	"slices"
)

// A Catalog is a static mapping between command names and IDs. It is safe to
// copy the value; all copies share a reference to the same mapping.
type Catalog struct {
	byName map[string]uint32
	byID   map[uint32]string
}

// New creates a new empty catalog.
func New() Catalog {
	return Catalog{byName: make(map[string]uint32), byID: make(map[uint32]string)}
}

// Set maps name to id in c, and returns c to allow chaining. If name or id
// was already mapped in c, the existing mapping is replaced.
//
// It is not safe to call Set while c is used concurrently by other goroutines
// without external synchronization.
func (c Catalog) Set(name string, id uint32) Catalog {
	if old, ok := c.byName[name]; ok {
		delete(c.byID, old)
	}
	if old, ok := c.byID[id]; ok {
		delete(c.byName, old)
	}
	c.byName[name] = id
	c.byID[id] = name
	return c
}

// Lookup returns the command ID assigned to name, and reports whether it was
// found.
func (c Catalog) Lookup(name string) (uint32, bool) {
	id, ok := c.byName[name]
	return id, ok
}

// Name returns the name assigned to id. If id has no name, Name returns id
// formatted in hexadecimal.
func (c Catalog) Name(id uint32) string {
	if name, ok := c.byID[id]; ok {
		return name
	}
	return fmt.Sprintf("%#x", id)
}

// Names returns the names defined by c, in lexicographic order.
func (c Catalog) Names() []string { return slices.Sorted(maps.Keys(c.byName)) }

// Len reports the number of commands in c.
func (c Catalog) Len() int { return len(c.byName) }

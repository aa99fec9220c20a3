package property

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-instancing/common"
)

var (
	// ErrConflictingName is returned when a type is registered again under a different name.
	ErrConflictingName = errors.New("property: type already registered under a different name")
	// ErrCatalogFrozen is returned by Register after Freeze.
	ErrCatalogFrozen = errors.New("property: catalog is frozen")
	// ErrInvalidSize is returned for zero sizes or transforms that are not float4x4 on the CPU.
	ErrInvalidSize = errors.New("property: invalid property size")
	// ErrInvalidDefault is returned when a default value does not match the CPU size.
	ErrInvalidDefault = errors.New("property: default value size mismatch")
)

// Catalog maps property types to shader-visible names and sizes. It is populated during startup,
// frozen, and read-only from then on; reads are safe from any goroutine.
type Catalog interface {
	// Register adds a property type. Registering the same type under the same name again returns the
	// existing descriptor. Registering a type under a second name is an assertion and returns
	// ErrConflictingName. Transform kinds without WithGPUSize take the TransformPacker's size.
	//
	// Parameters:
	//   - typeIndex: the logical type
	//   - name: the shader-visible property name
	//   - sizeCPU: the CPU size of one value in bytes
	//   - options: per-registration options (GPU size, kind, default value)
	//
	// Returns:
	//   - Descriptor: the registered descriptor
	//   - error: ErrConflictingName, ErrCatalogFrozen, ErrInvalidSize or ErrInvalidDefault
	Register(typeIndex TypeIndex, name string, sizeCPU uint32, options ...RegisterOption) (Descriptor, error)

	// Freeze makes the catalog read-only.
	Freeze()

	// Frozen reports whether Freeze has been called.
	Frozen() bool

	// ByType looks a descriptor up by type.
	//
	// Parameters:
	//   - typeIndex: the logical type
	//
	// Returns:
	//   - Descriptor: the descriptor
	//   - bool: false if the type is not registered
	ByType(typeIndex TypeIndex) (Descriptor, bool)

	// ByName returns every descriptor registered under name, in registration order.
	//
	// Parameters:
	//   - name: the shader-visible property name
	//
	// Returns:
	//   - []Descriptor: the descriptors, nil if none
	ByName(name string) []Descriptor

	// ByNameID returns every descriptor sharing the name id, in registration order.
	ByNameID(id NameID) []Descriptor

	// NameID returns the id assigned to name.
	NameID(name string) (NameID, bool)

	// Descriptors returns every descriptor in registration order.
	Descriptors() []Descriptor

	// Len returns the number of registered types.
	Len() int

	// TransformPacker returns the packer selected at construction.
	TransformPacker() TransformPacker
}

type catalog struct {
	mu *sync.RWMutex

	logger *slog.Logger
	packer TransformPacker
	frozen bool

	descriptors []Descriptor
	byType      map[TypeIndex]int
	names       map[string]NameID
	byNameID    map[NameID][]int
}

// Ensure catalog implements Catalog interface.
var _ Catalog = &catalog{}

// NewCatalog creates an empty, unfrozen Catalog.
//
// Parameters:
//   - options: functional options to configure the catalog
//
// Returns:
//   - Catalog: the new catalog
func NewCatalog(options ...CatalogBuilderOption) Catalog {
	c := &catalog{
		mu:       &sync.RWMutex{},
		logger:   common.NopLogger(),
		packer:   Float3x4Packer{},
		byType:   make(map[TypeIndex]int),
		names:    make(map[string]NameID),
		byNameID: make(map[NameID][]int),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *catalog) Register(typeIndex TypeIndex, name string, sizeCPU uint32, options ...RegisterOption) (Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return Descriptor{}, fmt.Errorf("register %q: %w", name, ErrCatalogFrozen)
	}
	if i, ok := c.byType[typeIndex]; ok {
		existing := c.descriptors[i]
		if existing.Name == name {
			return existing, nil
		}
		common.Assert(c.logger, false, "property: type %d registered as %q and %q", typeIndex, existing.Name, name)
		return Descriptor{}, fmt.Errorf("register type %d as %q (already %q): %w", typeIndex, name, existing.Name, ErrConflictingName)
	}

	d := Descriptor{
		TypeIndex:    typeIndex,
		Name:         name,
		SizeBytesCPU: sizeCPU,
		Kind:         KindValue,
	}
	for _, option := range options {
		option(&d)
	}
	if sizeCPU == 0 {
		return Descriptor{}, fmt.Errorf("register %q: zero size: %w", name, ErrInvalidSize)
	}
	if d.Kind.Transform() || d.Kind.Derived() {
		if sizeCPU != MatrixSizeCPU {
			return Descriptor{}, fmt.Errorf("register %q: %s needs %d bytes, got %d: %w", name, d.Kind, MatrixSizeCPU, sizeCPU, ErrInvalidSize)
		}
		if d.SizeBytesGPU == 0 {
			d.SizeBytesGPU = c.packer.SizeGPU()
		}
	}
	if d.SizeBytesGPU == 0 {
		d.SizeBytesGPU = sizeCPU
	}
	if d.SizeBytesGPU < sizeCPU && !d.Kind.Transform() && !d.Kind.Derived() {
		return Descriptor{}, fmt.Errorf("register %q: gpu size %d below cpu size %d: %w", name, d.SizeBytesGPU, sizeCPU, ErrInvalidSize)
	}
	if d.HasDefault() && uint32(len(d.Default)) != sizeCPU {
		return Descriptor{}, fmt.Errorf("register %q: default is %d bytes, want %d: %w", name, len(d.Default), sizeCPU, ErrInvalidDefault)
	}

	id, ok := c.names[name]
	if !ok {
		id = NameID(len(c.names))
		c.names[name] = id
	}
	d.NameID = id
	d.Index = len(c.descriptors)

	c.byType[typeIndex] = d.Index
	c.byNameID[id] = append(c.byNameID[id], d.Index)
	c.descriptors = append(c.descriptors, d)
	c.logger.Debug("property registered", "type", typeIndex, "name", name, "kind", d.Kind.String(), "cpu", d.SizeBytesCPU, "gpu", d.SizeBytesGPU)
	return d, nil
}

func (c *catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

func (c *catalog) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

func (c *catalog) ByType(typeIndex TypeIndex) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byType[typeIndex]
	if !ok {
		return Descriptor{}, false
	}
	return c.descriptors[i], true
}

func (c *catalog) ByName(name string) []Descriptor {
	c.mu.RLock()
	id, ok := c.names[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.ByNameID(id)
}

func (c *catalog) ByNameID(id NameID) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.byNameID[id]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Descriptor, len(idx))
	for i, j := range idx {
		out[i] = c.descriptors[j]
	}
	return out
}

func (c *catalog) NameID(name string) (NameID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.names[name]
	return id, ok
}

func (c *catalog) Descriptors() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, len(c.descriptors))
	copy(out, c.descriptors)
	return out
}

func (c *catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.descriptors)
}

func (c *catalog) TransformPacker() TransformPacker {
	return c.packer
}

// package scene is the instance store the batching engine reads from. A Scene owns fixed-capacity
// InstanceGroups, each holding one contiguous data stream per property type of its layout, and stamps
// every write with a monotonically increasing version so consumers can detect what changed.
package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-instancing/common"
	"github.com/Carmen-Shannon/oxy-instancing/engine/property"
)

var (
	// ErrUnknownProperty is returned when a layout or write names a type missing from the catalog.
	ErrUnknownProperty = errors.New("scene: unknown property type")
	// ErrInvalidCapacity is returned for groups with a non-positive capacity.
	ErrInvalidCapacity = errors.New("scene: group capacity must be positive")
	// ErrGroupFull is returned by AddInstance when the group is at capacity.
	ErrGroupFull = errors.New("scene: group is full")
	// ErrIndexOutOfRange is returned for instance indices outside [0, Count()).
	ErrIndexOutOfRange = errors.New("scene: instance index out of range")
	// ErrNotInLayout is returned when writing a property the group's layout does not contain.
	ErrNotInLayout = errors.New("scene: property not in group layout")
	// ErrSizeMismatch is returned when a written value is not the property's CPU size.
	ErrSizeMismatch = errors.New("scene: value size mismatch")
)

// Definition is everything needed to create a group. It comes from the baking collaborator;
// the scene never originates content.
type Definition struct {
	Layout          Layout
	Identity        RenderIdentity
	Capacity        int
	SharedOverrides []byte      // shared-component override values, hashed into the consolidation key
	LocalBounds     common.AABB // object-space bounds shared by every instance
	LODDistances    []float32   // ascending switch distances; level i is used below LODDistances[i]
}

// Scene owns InstanceGroups and the global write-version counter.
// Group creation and destruction are safe for concurrent use. Writes to one group are safe
// concurrently with reads of other groups.
type Scene interface {
	// Catalog returns the property catalog the scene validates layouts against.
	Catalog() property.Catalog

	// CreateGroup creates an empty group from a definition.
	//
	// Parameters:
	//   - def: the group definition
	//
	// Returns:
	//   - InstanceGroup: the new group
	//   - error: ErrInvalidCapacity or ErrUnknownProperty
	CreateGroup(def Definition) (InstanceGroup, error)

	// DestroyGroup removes a group. The batching engine notices on its next update.
	//
	// Parameters:
	//   - id: the group to destroy
	//
	// Returns:
	//   - bool: false if no such group exists
	DestroyGroup(id GroupID) bool

	// Group looks a group up by id.
	Group(id GroupID) (InstanceGroup, bool)

	// Groups returns a snapshot of all live groups ordered by id.
	Groups() []InstanceGroup

	// Count returns the number of live groups.
	Count() int

	// Version returns the stamp the next write will carry.
	Version() uint64

	// AdvanceVersion closes the current version: every write made before the call carries a stamp
	// no greater than the returned value, every later write a greater one.
	//
	// Returns:
	//   - uint64: the closed version
	AdvanceVersion() uint64
}

type scene struct {
	mu *sync.RWMutex

	logger  *slog.Logger
	catalog property.Catalog

	version *atomic.Uint64
	nextID  GroupID
	groups  map[GroupID]*group
	order   []GroupID // ascending
	initial []Definition
}

// Ensure scene implements Scene interface.
var _ Scene = &scene{}

// NewScene creates an empty Scene. The catalog is required and NewScene panics if it is nil.
//
// Parameters:
//   - catalog: the property catalog (must not be nil)
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(catalog property.Catalog, options ...SceneBuilderOption) Scene {
	if catalog == nil {
		panic("scene: NewScene requires a non-nil Catalog")
	}
	s := &scene{
		mu:      &sync.RWMutex{},
		logger:  common.NopLogger(),
		catalog: catalog,
		version: &atomic.Uint64{},
		nextID:  1,
		groups:  make(map[GroupID]*group),
	}
	s.version.Store(1)
	for _, option := range options {
		option(s)
	}
	for _, def := range s.initial {
		if _, err := s.CreateGroup(def); err != nil {
			panic(fmt.Sprintf("scene: failed to create initial group: %v", err))
		}
	}
	s.initial = nil
	return s
}

func (s *scene) Catalog() property.Catalog {
	return s.catalog
}

func (s *scene) CreateGroup(def Definition) (InstanceGroup, error) {
	if def.Capacity <= 0 {
		return nil, fmt.Errorf("create group with capacity %d: %w", def.Capacity, ErrInvalidCapacity)
	}

	streams := make(map[property.TypeIndex]*stream, def.Layout.Len())
	var transform, prevTransform *stream
	for _, t := range def.Layout.types {
		d, ok := s.catalog.ByType(t)
		if !ok {
			return nil, fmt.Errorf("create group: type %d: %w", t, ErrUnknownProperty)
		}
		st := &stream{desc: d, data: make([]byte, 0, def.Capacity*int(d.SizeBytesCPU))}
		streams[t] = st
		switch d.Kind {
		case property.KindObjectToWorld:
			transform = st
		case property.KindPrevObjectToWorld:
			prevTransform = st
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	g := &group{
		mu:            &sync.RWMutex{},
		id:            id,
		def:           def,
		overrideHash:  HashOverrides(def.SharedOverrides),
		version:       s.version,
		streams:       streams,
		transform:     transform,
		prevTransform: prevTransform,
		lodMask:       make([]uint8, 0, def.Capacity),
	}
	g.def.SharedOverrides = slices.Clone(def.SharedOverrides)
	g.def.LODDistances = slices.Clone(def.LODDistances)
	g.created = s.version.Load()
	g.orderVersion = g.created

	s.groups[id] = g
	s.order = append(s.order, id)
	s.logger.Debug("group created", "group", id, "capacity", def.Capacity, "properties", def.Layout.Len())
	return g, nil
}

func (s *scene) DestroyGroup(id GroupID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return false
	}
	delete(s.groups, id)
	if i, ok := slices.BinarySearch(s.order, id); ok {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.logger.Debug("group destroyed", "group", id)
	return true
}

func (s *scene) Group(id GroupID) (InstanceGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, false
	}
	return g, true
}

func (s *scene) Groups() []InstanceGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InstanceGroup, len(s.order))
	for i, id := range s.order {
		out[i] = s.groups[id]
	}
	return out
}

func (s *scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

func (s *scene) Version() uint64 {
	return s.version.Load()
}

func (s *scene) AdvanceVersion() uint64 {
	return s.version.Add(1) - 1
}

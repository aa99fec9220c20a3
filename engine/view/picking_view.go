package view

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-instancing/engine/culling"
	"github.com/RoaringBitmap/roaring/v2"
)

// PickingView culls through a camera's frustum but only considers the selected groups.
// With no selection it includes nothing and the pass takes the empty fast path.
type PickingView interface {
	View

	// Select replaces the selection.
	//
	// Parameters:
	//   - groups: the selected group ids
	Select(groups ...uint32)

	// Clear empties the selection.
	Clear()

	// Selection returns a copy of the selection.
	Selection() *roaring.Bitmap
}

type pickingView struct {
	mu *sync.Mutex

	camera    CameraView
	selection *roaring.Bitmap
}

// Ensure pickingView implements PickingView interface.
var _ PickingView = &pickingView{}

// NewPickingView creates an empty selection over camera. It panics if camera is nil.
//
// Parameters:
//   - camera: the camera whose frustum the picking pass uses
//
// Returns:
//   - PickingView: the newly created picking view
func NewPickingView(camera CameraView) PickingView {
	if camera == nil {
		panic("view: NewPickingView requires a CameraView")
	}
	return &pickingView{
		mu:        &sync.Mutex{},
		camera:    camera,
		selection: roaring.New(),
	}
}

func (p *pickingView) Select(groups ...uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection = roaring.BitmapOf(groups...)
}

func (p *pickingView) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection.Clear()
}

func (p *pickingView) Selection() *roaring.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection.Clone()
}

func (p *pickingView) Parameters() culling.Parameters {
	params := p.camera.Parameters()
	params.View = culling.ViewPicking
	params.Filter = p.Selection()
	return params
}

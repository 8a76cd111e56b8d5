// Package appearance describes where and how the visible signature mark
// is placed on a document page.
//
// A Descriptor is immutable once built: its accessors return copies, so
// a request can be handed to the signing worker by value without the
// caller being able to change it mid-flight.
package appearance

import (
	"fmt"
	"math"
	"strings"
)

// Raster is a tightly packed, non-premultiplied RGBA8 image stored
// row-major from the top row down.
type Raster struct {
	Pix    []byte
	Width  int
	Height int
}

// NewRaster wraps pix as a width×height raster.  It returns nil unless
// len(pix) == width*height*4, so a malformed raster degrades to "no
// image" instead of failing the request.
func NewRaster(pix []byte, width, height int) *Raster {
	if !sizeMatches(len(pix), width, height) {
		return nil
	}
	cp := make([]byte, len(pix))
	copy(cp, pix)
	return &Raster{Pix: cp, Width: width, Height: height}
}

// Valid reports whether the raster satisfies its size invariant.
func (r *Raster) Valid() bool {
	return r != nil && sizeMatches(len(r.Pix), r.Width, r.Height)
}

// sizeMatches reports whether n == width*height*4 without letting the
// product overflow.
func sizeMatches(n, width, height int) bool {
	if width <= 0 || height <= 0 || width > math.MaxInt/4/height {
		return false
	}
	return n == width*height*4
}

// Descriptor is the placement of one signature mark.
type Descriptor struct {
	pageIndex int
	left      float32
	bottom    float32
	width     float32
	height    float32
	reason    string
	location  string
	name      string
	fieldIDs  []string
	image     *Raster
}

// Options carries the fields of a Descriptor.  Empty strings are
// omitted from the signature dictionary.
type Options struct {
	PageIndex int
	Left      float32
	Bottom    float32
	Width     float32
	Height    float32
	Reason    string
	Location  string
	Name      string
	// FieldIDs lists existing form fields, in order of preference, that
	// may anchor the mark when no rectangle is given.
	FieldIDs []string
	Image    *Raster
}

// New builds a Descriptor from opts.  Blank text fields are dropped and
// an image that violates the raster size invariant is discarded.
func New(opts Options) *Descriptor {
	d := &Descriptor{
		pageIndex: opts.PageIndex,
		left:      opts.Left,
		bottom:    opts.Bottom,
		width:     opts.Width,
		height:    opts.Height,
		reason:    nonBlank(opts.Reason),
		location:  nonBlank(opts.Location),
		name:      nonBlank(opts.Name),
	}
	for _, id := range opts.FieldIDs {
		if id = strings.TrimSpace(id); id != "" {
			d.fieldIDs = append(d.fieldIDs, id)
		}
	}
	if opts.Image.Valid() {
		d.image = NewRaster(opts.Image.Pix, opts.Image.Width, opts.Image.Height)
	}
	return d
}

// Validate checks the structural constraints a signer relies on.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("appearance is required")
	}
	if d.pageIndex < 0 {
		return fmt.Errorf("page index %d must not be negative", d.pageIndex)
	}
	if d.width < 0 || d.height < 0 {
		return fmt.Errorf("signature box %gx%g must not be negative", d.width, d.height)
	}
	if d.image != nil && !d.image.Valid() {
		return fmt.Errorf("signature image is %d bytes, want %d", len(d.image.Pix), d.image.Width*d.image.Height*4)
	}
	return nil
}

func (d *Descriptor) PageIndex() int   { return d.pageIndex }
func (d *Descriptor) Left() float32    { return d.left }
func (d *Descriptor) Bottom() float32  { return d.bottom }
func (d *Descriptor) Width() float32   { return d.width }
func (d *Descriptor) Height() float32  { return d.height }
func (d *Descriptor) Reason() string   { return d.reason }
func (d *Descriptor) Location() string { return d.location }
func (d *Descriptor) Name() string     { return d.name }

// FieldIDs returns a copy of the fallback anchor fields.
func (d *Descriptor) FieldIDs() []string {
	if len(d.fieldIDs) == 0 {
		return nil
	}
	out := make([]string, len(d.fieldIDs))
	copy(out, d.fieldIDs)
	return out
}

// Image returns a copy of the signature raster, or nil.
func (d *Descriptor) Image() *Raster {
	if d.image == nil {
		return nil
	}
	return NewRaster(d.image.Pix, d.image.Width, d.image.Height)
}

// HasImage reports whether a raster is attached without copying it.
func (d *Descriptor) HasImage() bool { return d.image != nil }

// Placement says how a signer should position the mark.
type Placement int

const (
	// PlaceDefault lets the signer choose (invisible or default box).
	PlaceDefault Placement = iota
	// PlaceRect uses the explicit left/bottom/width/height box.
	PlaceRect
	// PlaceField anchors the mark to the first listed form field.
	PlaceField
)

func (p Placement) String() string {
	switch p {
	case PlaceRect:
		return "rect"
	case PlaceField:
		return "field"
	default:
		return "default"
	}
}

// Placement returns the placement strategy: an explicit box wins when
// both of its dimensions are positive, then the first form field.
func (d *Descriptor) Placement() Placement {
	switch {
	case d.width > 0 && d.height > 0:
		return PlaceRect
	case len(d.fieldIDs) > 0:
		return PlaceField
	default:
		return PlaceDefault
	}
}

func nonBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

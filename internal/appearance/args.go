package appearance

import "ciesign/internal/args"

// FromArgs builds a Descriptor from a method-call argument map.  A nil
// map yields nil (no appearance).  Missing numbers default to zero and
// blank strings are omitted.
//
// The signature image is taken from "signatureImage" (encoded PNG, JPEG,
// ...) or, when absent, from "signatureRaster" with explicit
// "signatureImageWidth" and "signatureImageHeight".  Either way a bad
// image collapses to no image.
func FromArgs(m args.Map) *Descriptor {
	if m == nil {
		return nil
	}
	opts := Options{
		PageIndex: args.Int(m, "pageIndex", 0),
		Left:      args.Float32(m, "left", 0),
		Bottom:    args.Float32(m, "bottom", 0),
		Width:     args.Float32(m, "width", 0),
		Height:    args.Float32(m, "height", 0),
		Reason:    args.String(m, "reason"),
		Location:  args.String(m, "location"),
		Name:      args.String(m, "name"),
		FieldIDs:  args.Strings(m, "fieldIds"),
	}

	if encoded, ok := args.Bytes(m, "signatureImage"); ok {
		opts.Image = DecodeImage(encoded)
	} else if raw, ok := args.Bytes(m, "signatureRaster"); ok {
		opts.Image = NewRaster(raw,
			args.Int(m, "signatureImageWidth", 0),
			args.Int(m, "signatureImageHeight", 0))
	}
	return New(opts)
}

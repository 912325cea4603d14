package decode

// AttachedPictureProvider exposes a single embedded image (e.g. album art)
// carried as one packet on a video stream with the ATTACHED_PIC disposition.
// reisen does not expose stream disposition flags, so no reisen-backed
// implementation is wired here (see DESIGN.md); the reader agent depends
// only on this interface. A fake implementation exercises the interface
// itself in this package's tests; the reader's handling of it has no test.
type AttachedPictureProvider interface {
	// AttachedPicture returns the embedded picture's payload and true, or
	// ok=false if the stream carries none.
	AttachedPicture() (payload VideoPayload, ok bool)
}

// NoAttachedPicture is the zero-value AttachedPictureProvider: every real
// reisen-backed stream uses this until disposition flags are exposed.
type NoAttachedPicture struct{}

func (NoAttachedPicture) AttachedPicture() (VideoPayload, bool) { return VideoPayload{}, false }

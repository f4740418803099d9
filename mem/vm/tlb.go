package vm

// A TLB is the translation cache control primitive. Address spaces load
// translations into it when a page becomes resident and flush it whenever a
// mapping or a permission changes.
type TLB interface {
	// InvalidateAll drops every cached translation.
	InvalidateAll()

	// Load caches the translation of a resident page.
	Load(vpn VPN, frame FrameID, perm Perm)

	// Lookup returns the cached translation of the page, if any.
	Lookup(vpn VPN) (frame FrameID, perm Perm, found bool)
}

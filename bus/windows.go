package bus

// An AddressWindow is a contiguous address range claimed by one responder.
// The window spans [Base, Base+SizeMask]. SizeMask is therefore the window
// size minus one. Aligning Base and picking a mask of all-ones in the low
// bits gives hardware-friendly windows, but the decoder does not require it.
type AddressWindow struct {
	Base     uint64
	SizeMask uint64
}

// Contains returns true if the address falls inside the window.
func (w AddressWindow) Contains(addr uint64) bool {
	return addr >= w.Base && addr <= w.Base+w.SizeMask
}

// Rebase converts a fabric address into an address local to the responder
// that owns the window. Rebase must only be called with addresses the
// window contains.
func (w AddressWindow) Rebase(addr uint64) uint64 {
	return addr - w.Base
}

// An AddressDecoder selects the responder that serves an address. It
// returns the responder index, the address rebased to the responder's
// window, and whether any responder claims the address at all.
type AddressDecoder interface {
	Decode(addr uint64) (responder int, rebased uint64, ok bool)
}

// WindowDecoder decodes addresses against a table of windows, one per
// responder, scanned in index order. The first window that contains the
// address wins, so overlapping windows resolve to the lowest index.
type WindowDecoder struct {
	Windows []AddressWindow
}

// Decode implements AddressDecoder.
func (d *WindowDecoder) Decode(addr uint64) (int, uint64, bool) {
	for i, w := range d.Windows {
		if w.Contains(addr) {
			return i, w.Rebase(addr), true
		}
	}

	return 0, 0, false
}

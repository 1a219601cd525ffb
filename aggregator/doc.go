// Package aggregator implements a double-buffered, keyed write
// aggregator: many per-message updates are absorbed into an in-memory
// buffer and collapsed into one bulk write per flush.
//
// Two equally-shaped buffers alternate roles. Incoming Set/Update calls
// touch only the active buffer; a flush atomically swaps the buffers and
// hands the previously-active one to the caller-supplied callback, so
// writes never block behind an in-progress flush. If the callback fails,
// the buffers are swapped back and nothing is lost: the failed batch
// returns to the active side and is emitted by a later flush, together
// with whatever accumulated in the meantime.
//
// Flushes are triggered by a periodic timer (started by Start), by the
// active buffer reaching a configured size threshold, or explicitly via
// ForceFlush. Triggers are coalesced: at most one flush is in progress
// at any instant. Stop cancels the timer and performs a final
// synchronous flush; writes after Stop return [ErrStopped].
package aggregator

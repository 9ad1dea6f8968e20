package conversation

// turnGuard serialises turn generation: at most one call is in flight and at
// most one transcript waits behind it. A newer transcript replaces the waiting
// one. The in-flight call is never cancelled.
//
// A turnGuard is owned by the event loop and is not safe for concurrent use.
type turnGuard struct {
	inFlight   bool
	pending    string
	hasPending bool
}

// offer submits a final transcript. start reports that the caller must begin a
// call for transcript now. superseded reports that a waiting transcript was
// discarded in its favour.
func (g *turnGuard) offer(transcript string) (start, superseded bool) {
	if !g.inFlight {
		g.inFlight = true
		return true, false
	}
	superseded = g.hasPending
	g.pending = transcript
	g.hasPending = true
	return false, superseded
}

// done marks the in-flight call finished. When a transcript is waiting it is
// returned and becomes the new in-flight call.
func (g *turnGuard) done() (next string, ok bool) {
	if g.hasPending {
		next = g.pending
		g.pending = ""
		g.hasPending = false
		return next, true
	}
	g.inFlight = false
	return "", false
}

// busy reports whether a call is in flight.
func (g *turnGuard) busy() bool { return g.inFlight }

package nip46

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// pendingRequest is one outstanding request: a one-shot completion channel
// and the original signed envelope, kept verbatim so reconnecting relays can
// resend it unmodified.
type pendingRequest struct {
	id       string
	envelope []byte
	result   chan Response
	done     atomic.Bool
}

// complete delivers a response exactly once; later calls are inert.
func (pr *pendingRequest) complete(resp Response) bool {
	if !pr.done.CompareAndSwap(false, true) {
		return false
	}
	pr.result <- resp
	return true
}

// correlator maps outstanding request ids to their pending completion
// handles and resolves each at most once.
type correlator struct {
	pending *xsync.MapOf[string, *pendingRequest]
}

func newCorrelator() *correlator {
	return &correlator{pending: xsync.NewMapOf[string, *pendingRequest]()}
}

// add registers a new outstanding request. There is exactly one
// pendingRequest per live request id.
func (c *correlator) add(id string, envelope []byte) *pendingRequest {
	pr := &pendingRequest{
		id:       id,
		envelope: envelope,
		result:   make(chan Response, 1),
	}
	c.pending.Store(id, pr)
	return pr
}

// resolve completes the pending request carrying resp's id, removing it.
// Returns false if no live request matches or it was already completed
// (a duplicate delivery).
func (c *correlator) resolve(resp Response) bool {
	pr, ok := c.pending.Load(resp.ID)
	if !ok {
		return false
	}
	if !pr.complete(resp) {
		return false
	}
	c.pending.Delete(resp.ID)
	return true
}

// drop removes a pending request without completing it (the timeout path).
// Safe to call after resolve.
func (c *correlator) drop(id string) {
	if pr, ok := c.pending.Load(id); ok {
		pr.done.Store(true)
		c.pending.Delete(id)
	}
}

// each visits every currently outstanding request.
func (c *correlator) each(fn func(pr *pendingRequest)) {
	c.pending.Range(func(_ string, pr *pendingRequest) bool {
		fn(pr)
		return true
	})
}

func (c *correlator) size() int {
	return c.pending.Size()
}

// Package async runs background work whose result may be awaited later.
//
// Async starts fn in its own goroutine and returns a *Future. Await blocks
// until the result is ready or the context is done; a Future that outlives its
// caller keeps running and its result is simply dropped.
//
// A Group tracks futures started through Go so that a server can wait for
// in-flight work during shutdown:
//
//	var g async.Group
//	async.Go(&g, ctx, event, send)
//	...
//	if err := g.Wait(shutdownCtx); err != nil {
//	    // some work did not finish before the deadline
//	}
//
// Wait returns ErrTimeout when the context expires first.
package async

// Package rt is the core-side runtime: the exported variable and structure
// registry, the action table and the dispatch loop that turns frames from
// input slots into handler calls and, for synchronous requests, replies on
// the paired output slot.
//
// A Runtime is built once at start-up from an Application description and
// is passed to every handler; nothing in this package is global. The
// dispatch loop is single threaded and never blocks: Dispatch returns
// hmq.ErrEmpty when there is nothing to do and the caller decides whether
// to loop.
package rt

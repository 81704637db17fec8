// Package host drives message transactions from the host side of a queue
// bank: claim an input slot, assemble and commit the request, then for
// synchronous calls poll the paired output slot until a frame passes the
// call's filters or the timeout expires.
package host

// Package session holds the host-side transaction defaults shared by the
// local engine and the remote bridge: timeouts, poll cadence and the retry
// policy applied to calls that time out or find their slot busy.
package session

//go:build !giouring

package tcpconn

// newPoller returns the no-op poller when built without -tags giouring:
// lane progress relies solely on retrying the blocking/non-blocking
// unix.Write/Read calls directly, with no batched completion
// notification.
func newPoller() Poller { return nopPoller{} }

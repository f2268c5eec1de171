//go:build !unix

package discovery

import "syscall"

// Broadcast is not supported here; unicast peers still work.
func enableBroadcast(network, address string, c syscall.RawConn) error {
	return nil
}

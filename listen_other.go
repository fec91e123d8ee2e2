//go:build !linux && !darwin

package stampline

import "net"

// listenTCP falls back to the net package; the backlog is left to the OS.
func listenTCP(addr *net.TCPAddr, _ int) (*net.TCPListener, error) {
	return net.ListenTCP("tcp", addr)
}

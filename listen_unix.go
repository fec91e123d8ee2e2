//go:build linux || darwin

package stampline

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listenTCP binds addr with SO_REUSEADDR and listens with the given backlog.
// The net package picks its own backlog, so the socket is set up by hand and
// then handed to net.FileListener.
func listenTCP(addr *net.TCPAddr, backlog int) (*net.TCPListener, error) {
	family, sa, err := sockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := setupListener(fd, sa, backlog); err != nil {
		unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "tcp-listener")
	defer f.Close() // FileListener holds its own dup

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, errors.Wrap(err, "file listener")
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, errors.Errorf("unexpected listener type %T", ln)
	}
	return tl, nil
}

func setupListener(fd int, sa unix.Sockaddr, backlog int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa, nil
	}
	if ip16 := addr.IP.To16(); ip16 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip16)
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, errors.Errorf("unsupported address %s", addr)
}

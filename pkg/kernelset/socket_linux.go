//go:build linux

package kernelset

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// unixSocket is the real netfilter netlink transport, a raw AF_NETLINK /
// NETLINK_NETFILTER socket bound by the kernel to an ephemeral port id.
type unixSocket struct {
	fd     int
	portID uint32
}

func openSocket() (*unixSocket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_NETFILTER)
	if err != nil {
		return nil, fmt.Errorf("kernelset: open netfilter netlink socket: %w", err)
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("kernelset: bind netlink socket: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("kernelset: getsockname: %w", err)
	}
	nl, ok := bound.(*unix.SockaddrNetlink)
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("kernelset: unexpected sockaddr type %T from getsockname", bound)
	}

	return &unixSocket{fd: fd, portID: nl.Pid}, nil
}

func (s *unixSocket) PortID() uint32 {
	return s.portID
}

func (s *unixSocket) Send(b []byte) (int, error) {
	if err := unix.Send(s.fd, b, 0); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *unixSocket) Recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	return n, err
}

func (s *unixSocket) Close() error {
	return unix.Close(s.fd)
}

// recvBufferSize mirrors libmnl's MNL_SOCKET_BUFFER_SIZE macro:
// max(getpagesize(), 8192), so a single recv() can always hold the
// kernel's largest expected datagram for this bus. If the page size
// query itself fails, fall back to the fixed 8 KiB floor outright.
func recvBufferSize() int {
	const fallback = 8192

	pageSize := unix.Getpagesize()
	if pageSize <= 0 {
		return fallback
	}
	if pageSize > fallback {
		return pageSize
	}
	return fallback
}

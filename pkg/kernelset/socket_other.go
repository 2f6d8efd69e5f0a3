//go:build !linux

package kernelset

import (
	"fmt"
	"runtime"
)

// unixSocket is unavailable outside Linux: the netfilter netlink bus
// this package talks to is a Linux-kernel-only facility. Non-Linux
// builds can still run floodwatch in dry-run mode (see Client.Submit).
type unixSocket struct{}

func openSocket() (*unixSocket, error) {
	return nil, fmt.Errorf("kernelset: netfilter netlink sockets are not supported on %s", runtime.GOOS)
}

func (s *unixSocket) PortID() uint32          { return 0 }
func (s *unixSocket) Send([]byte) (int, error) {
	return 0, fmt.Errorf("kernelset: unsupported on %s", runtime.GOOS)
}
func (s *unixSocket) Recv([]byte) (int, error) {
	return 0, fmt.Errorf("kernelset: unsupported on %s", runtime.GOOS)
}
func (s *unixSocket) Close() error { return nil }

func recvBufferSize() int {
	return 8192
}

// Package tundev provides the TUN device seam the downlink/core-egress
// path reads from and writes to. The real implementation opens
// /dev/net/tun and issues TUNSETIFF via golang.org/x/sys/unix, the
// standard non-library way to create a TUN interface on Linux; a
// loopback stub satisfies the same interface when the real device can't
// be opened, so the pipeline always has something behind this seam.
package tundev

import "errors"

// ErrClosed is returned by ReadPacket/WritePacket after Close.
var ErrClosed = errors.New("tundev: device closed")

// Device is the byte-stream duplex the core-egress path reads IP frames
// from and writes rewritten IP frames to. MTU-bound: callers must size
// buf to at least the configured MTU.
type Device interface {
	ReadPacket(buf []byte) (int, error)
	WritePacket(buf []byte) (int, error)
	Close() error
	Name() string
}

// Open opens the named TUN interface, falling back to an in-process
// stub when the real device can't be created (missing CAP_NET_ADMIN,
// non-Linux build, or name == "" meaning TUN is explicitly disabled).
func Open(name string, mtu int) (Device, error) {
	if name == "" {
		return newStubTUN("stub0"), nil
	}
	dev, err := newLinuxTUN(name, mtu)
	if err != nil {
		return newStubTUN(name), nil
	}
	return dev, nil
}

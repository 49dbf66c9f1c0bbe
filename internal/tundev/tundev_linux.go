//go:build linux

package tundev

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifNameSize = 16
	tunDevPath = "/dev/net/tun"
)

// ifReq mirrors struct ifreq's first two fields as TUNSETIFF needs them:
// a 16-byte interface name followed by the flags field.
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

type linuxTUN struct {
	mu     sync.Mutex
	file   *os.File
	name   string
	closed bool
}

func newLinuxTUN(name string, mtu int) (Device, error) {
	file, err := os.OpenFile(tunDevPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tundev: open %s: %w", tunDevPath, err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		file.Close()
		return nil, fmt.Errorf("tundev: TUNSETIFF: %w", errno)
	}

	return &linuxTUN{file: file, name: name}, nil
}

func (t *linuxTUN) ReadPacket(buf []byte) (int, error) {
	return t.file.Read(buf)
}

func (t *linuxTUN) WritePacket(buf []byte) (int, error) {
	return t.file.Write(buf)
}

func (t *linuxTUN) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.file.Close()
}

func (t *linuxTUN) Name() string { return t.name }

//go:build !linux

package tundev

import "errors"

func newLinuxTUN(name string, mtu int) (Device, error) {
	return nil, errors.New("tundev: linux TUN backend unavailable on this platform")
}

//go:build linux

package xattr

import (
	"golang.org/x/sys/unix"
)

const (
	attrHash  = "user.gasd.hash"
	attrMtime = "user.gasd.mtime"

	supported = true
)

func getAttrs(path string) (hash, stamp string, err error) {
	buf := make([]byte, 64)
	n, err := unix.Getxattr(path, attrHash, buf)
	if err != nil {
		return "", "", err
	}
	hash = string(buf[:n])
	n, err = unix.Getxattr(path, attrMtime, buf)
	if err != nil {
		return hash, "", err
	}
	return hash, string(buf[:n]), nil
}

func setAttrs(path, hash, stamp string) error {
	if err := unix.Setxattr(path, attrHash, []byte(hash), 0); err != nil {
		return err
	}
	return unix.Setxattr(path, attrMtime, []byte(stamp), 0)
}

func removeAttrs(path string) error {
	err1 := unix.Removexattr(path, attrHash)
	err2 := unix.Removexattr(path, attrMtime)
	if err1 != nil && err1 != unix.ENODATA {
		return err1
	}
	if err2 != nil && err2 != unix.ENODATA {
		return err2
	}
	return nil
}

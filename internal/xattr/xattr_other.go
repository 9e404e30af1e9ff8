//go:build !linux

package xattr

import "errors"

const supported = false

var errUnsupported = errors.New("xattr not supported on this platform")

func getAttrs(path string) (string, string, error) { return "", "", errUnsupported }
func setAttrs(path, hash, stamp string) error      { return nil }
func removeAttrs(path string) error                { return nil }

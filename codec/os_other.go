//go:build !unix

package codec

import "syscall"

func errnoName(errno syscall.Errno) string {
	if errno == syscall.ENOENT {
		return "ENOENT"
	}
	return errno.Error()
}

func signalName(sig syscall.Signal) string {
	return sig.String()
}

func signalNumber(string) int {
	return 0
}

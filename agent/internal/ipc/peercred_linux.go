//go:build linux

package ipc

import (
	"net"

	"fleet-steward/agent/internal/gate"

	"golang.org/x/sys/unix"
)

// peerCaller reads the kernel-verified credentials of the process on the other
// end of a unix socket.
func peerCaller(c net.Conn) (gate.Caller, bool) {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return gate.Caller{}, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return gate.Caller{}, false
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return gate.Caller{}, false
	}
	return gate.Caller{UID: int(cred.Uid), PID: int(cred.Pid)}, true
}

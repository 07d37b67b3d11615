// Copyright 2024 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxy

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Supervisor handoff follows the systemd socket-activation protocol:
// LISTEN_PID names the intended recipient process and LISTEN_FDS the number
// of listening descriptors passed, starting at descriptor 3.
const (
	listenPIDEnv  = "LISTEN_PID"
	listenFDsEnv  = "LISTEN_FDS"
	listenFDStart = 3
)

// AdoptInheritedListeners adopts listeners handed off by a supervisor, if
// any. A handoff addressed to a different process id is ignored.
// Descriptors that cannot be adopted are logged and skipped.
func AdoptInheritedListeners(logger *slog.Logger) []net.Listener {
	return adoptFromEnv(os.Getenv, os.Getpid(), logger)
}

// adoptFromEnv is [AdoptInheritedListeners] with the environment and process
// id injected, so tests can exercise the protocol checks.
func adoptFromEnv(getenv func(string) string, pid int, logger *slog.Logger) []net.Listener {
	pidValue := getenv(listenPIDEnv)
	if pidValue == "" {
		return nil
	}
	wantPID, err := strconv.Atoi(pidValue)
	if err != nil || wantPID != pid {
		// The handoff is addressed to some other process.
		return nil
	}
	count, err := strconv.Atoi(getenv(listenFDsEnv))
	if err != nil || count <= 0 {
		return nil
	}

	var listeners []net.Listener
	for fd := listenFDStart; fd < listenFDStart+count; fd++ {
		ln, err := adoptListenerFD(fd)
		if err != nil {
			logger.Warn("Skipping inherited descriptor", "fd", fd, "error", err)
			continue
		}
		logger.Info("Adopted inherited listener", "fd", fd, "address", ln.Addr())
		listeners = append(listeners, ln)
	}
	return listeners
}

// adoptListenerFD turns an inherited descriptor into a listener. The socket
// domain decides the variant: IPv4 and IPv6 sockets become TCP listeners,
// unix-domain sockets become unix listeners.
func adoptListenerFD(fd int) (net.Listener, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set non-blocking: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("not a socket: %w", err)
	}
	var name string
	switch sa.(type) {
	case *unix.SockaddrInet4, *unix.SockaddrInet6:
		name = "tcp"
	case *unix.SockaddrUnix:
		name = "unix"
	default:
		return nil, fmt.Errorf("unsupported socket domain %T", sa)
	}

	// net.FileListener dups the descriptor, so the os.File wrapper can be
	// closed right away.
	file := os.NewFile(uintptr(fd), name)
	defer file.Close()
	return net.FileListener(file)
}

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
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/Jigsaw-Code/socks2unix/transport"
)

// BackendPath returns the rendezvous socket path for the destination
// (host, port): the file "{host}_{port}" joined to directory. It performs no
// sanitization and no I/O; [HostnameAllowed] is the sanitizer.
func BackendPath(directory, host string, port uint16) string {
	return filepath.Join(directory, fmt.Sprintf("%s_%d", host, port))
}

// RendezvousDialer is a [transport.StreamDialer] that connects "host:port"
// destinations to the unix socket [BackendPath] names for them. It is
// name-addressed: no DNS resolution takes place.
type RendezvousDialer struct {
	// Directory holding the backend sockets.
	Directory string
	// Dialer used to open the unix connection.
	Dialer net.Dialer
}

var _ transport.StreamDialer = (*RendezvousDialer)(nil)

// DialStream implements [transport.StreamDialer].
func (d *RendezvousDialer) DialStream(ctx context.Context, raddr string) (transport.StreamConn, error) {
	host, portStr, err := net.SplitHostPort(raddr)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", raddr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid destination port %q: %w", portStr, err)
	}
	conn, err := d.Dialer.DialContext(ctx, "unix", BackendPath(d.Directory, host, uint16(port)))
	if err != nil {
		return nil, err
	}
	return conn.(*net.UnixConn), nil
}

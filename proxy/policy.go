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
	"net"
	"strings"

	"github.com/Jigsaw-Code/socks2unix/transport"
)

// Hostnames become a single path component under the rendezvous directory,
// so anything that could escape it or confuse the filename is rejected.
const forbiddenHostnameRunes = "/\\:\x00"

// HostnameAllowed reports whether name may be resolved to a backend socket.
// It is the only sanitization applied before the name is joined to the
// rendezvous directory.
func HostnameAllowed(name string) bool {
	return !strings.ContainsAny(name, forbiddenHostnameRunes)
}

// allowPeer runs the acceptance policy on a freshly accepted connection,
// before any bytes are read. Rejected peers are closed without a SOCKS
// reply; they have not spoken SOCKS yet.
func (s *Service) allowPeer(conn net.Conn) bool {
	if s.allowedUIDs == nil {
		return true
	}
	uid, err := transport.PeerUID(conn)
	if err != nil {
		// No identity, no entry. This covers TCP peers.
		return false
	}
	return s.allowedUIDs[uid]
}

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

//go:build !linux

package transport

import (
	"errors"
	"net"
)

// PeerUID returns the numeric user id of the peer process. Peer credentials
// are only queried on Linux; everywhere else the identity is unavailable.
func PeerUID(conn net.Conn) (uint32, error) {
	return 0, errors.ErrUnsupported
}

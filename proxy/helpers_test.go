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
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// unixConnPair returns the two ends of a connected unix-domain socket.
func unixConnPair(t *testing.T) (client, server *net.UnixConn) {
	t.Helper()
	listener, err := net.Listen("unix", filepath.Join(t.TempDir(), "pair.sock"))
	require.NoError(t, err)
	defer listener.Close()

	dialed := make(chan *net.UnixConn, 1)
	go func() {
		conn, err := net.Dial("unix", listener.Addr().String())
		if err != nil {
			dialed <- nil
			return
		}
		dialed <- conn.(*net.UnixConn)
	}()
	accepted, err := listener.Accept()
	require.NoError(t, err)
	client = <-dialed
	require.NotNil(t, client)
	server = accepted.(*net.UnixConn)
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

// echoBackend listens at the rendezvous socket for (host, port) under dir and
// echoes every byte back on each accepted connection until the client
// half-closes.
func echoBackend(t *testing.T, dir, host string, port uint16) {
	t.Helper()
	listener, err := net.Listen("unix", BackendPath(dir, host, port))
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
}

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

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

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

func TestWrapConn_ReplacesReader(t *testing.T) {
	_, server := unixConnPair(t)
	wrapped := WrapConn(server, bytes.NewReader([]byte("injected")), server)
	require.NoError(t, iotest.TestReader(wrapped, []byte("injected")))
}

func TestWrapConn_PreservesCloseWrite(t *testing.T) {
	client, server := unixConnPair(t)
	wrapped := WrapConn(server, server, server)

	_, err := wrapped.Write([]byte("last words"))
	require.NoError(t, err)
	require.NoError(t, wrapped.CloseWrite())

	data, err := io.ReadAll(client)
	require.NoError(t, err)
	require.Equal(t, "last words", string(data))

	// The read half stays open after CloseWrite.
	_, err = client.Write([]byte("reply"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(wrapped, buf)
	require.NoError(t, err)
	require.Equal(t, "reply", string(buf))
}

func TestWrapConn_AvoidsNesting(t *testing.T) {
	_, server := unixConnPair(t)
	once := WrapConn(server, bytes.NewReader([]byte("first")), server)
	twice := WrapConn(once, bytes.NewReader([]byte("second")), server)
	require.Equal(t, server, twice.(*duplexConnAdaptor).StreamConn)
}

func TestTCPDialer(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("hello"))
		conn.Close()
	}()

	dialer := &TCPDialer{}
	conn, err := dialer.DialStream(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestPeerUID_Unix(t *testing.T) {
	_, server := unixConnPair(t)
	uid, err := PeerUID(server)
	if errors.Is(err, errors.ErrUnsupported) {
		t.Skip("peer credentials not supported on this platform")
	}
	require.NoError(t, err)
	require.Equal(t, uint32(os.Getuid()), uid)
}

func TestPeerUID_TCPUnavailable(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		conn, _ := net.Dial("tcp", listener.Addr().String())
		if conn != nil {
			defer conn.Close()
		}
	}()
	conn, err := listener.Accept()
	require.NoError(t, err)
	defer conn.Close()

	_, err = PeerUID(conn)
	require.ErrorIs(t, err, errors.ErrUnsupported)
}

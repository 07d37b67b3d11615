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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeEnv(pairs map[string]string) func(string) string {
	return func(key string) string { return pairs[key] }
}

func TestAdoptFromEnv_NoHandoff(t *testing.T) {
	require.Nil(t, adoptFromEnv(fakeEnv(nil), 1234, discardLogger()))
}

func TestAdoptFromEnv_WrongPIDIsIgnored(t *testing.T) {
	env := fakeEnv(map[string]string{"LISTEN_PID": "999999", "LISTEN_FDS": "1"})
	require.Nil(t, adoptFromEnv(env, 1234, discardLogger()))
}

func TestAdoptFromEnv_BadValuesAreIgnored(t *testing.T) {
	require.Nil(t, adoptFromEnv(fakeEnv(map[string]string{"LISTEN_PID": "bogus", "LISTEN_FDS": "1"}), 1234, discardLogger()))
	require.Nil(t, adoptFromEnv(fakeEnv(map[string]string{"LISTEN_PID": "1234", "LISTEN_FDS": "bogus"}), 1234, discardLogger()))
	require.Nil(t, adoptFromEnv(fakeEnv(map[string]string{"LISTEN_PID": "1234", "LISTEN_FDS": "0"}), 1234, discardLogger()))
}

func TestAdoptListenerFD_TCP(t *testing.T) {
	original, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer original.Close()
	file, err := original.File()
	require.NoError(t, err)
	defer file.Close()

	adopted, err := adoptListenerFD(int(file.Fd()))
	require.NoError(t, err)
	defer adopted.Close()
	require.Equal(t, original.Addr().String(), adopted.Addr().String())

	// The adopted listener accepts connections on the same socket.
	go func() {
		conn, err := net.Dial("tcp", adopted.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()
	conn, err := adopted.Accept()
	require.NoError(t, err)
	conn.Close()
}

func TestAdoptListenerFD_Unix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inherited.sock")
	original, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer original.Close()
	file, err := original.(*net.UnixListener).File()
	require.NoError(t, err)
	defer file.Close()

	adopted, err := adoptListenerFD(int(file.Fd()))
	require.NoError(t, err)
	defer adopted.Close()
	require.Equal(t, "unix", adopted.Addr().Network())
	require.Equal(t, path, adopted.Addr().String())
}

func TestAdoptListenerFD_NotASocket(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "plain")
	require.NoError(t, err)
	defer file.Close()

	_, err = adoptListenerFD(int(file.Fd()))
	require.Error(t, err)
}

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
	"sync"

	"github.com/Jigsaw-Code/socks2unix/internal/idletimer"
	"github.com/Jigsaw-Code/socks2unix/transport"
)

// relay copies bytes in both directions between the client and backend until
// EOF or error on either half. EOF in one direction shuts down the write
// half of the other, so the opposite direction can keep draining; many
// applications rely on write-after-read-EOF semantics. Content is not
// interpreted and, unless an idle timeout is configured, nothing times out.
func (s *Service) relay(clientConn, backendConn transport.StreamConn, logger *slog.Logger) {
	var watchdog *idletimer.Watchdog
	if s.idleTimeout > 0 {
		watchdog = idletimer.New(s.idleTimeout)
		defer watchdog.Stop()
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-watchdog.Expired():
				logger.Debug("Relay idle timeout expired")
				clientConn.Close()
				backendConn.Close()
			case <-done:
			}
		}()
	}

	var running sync.WaitGroup
	running.Add(1)
	go func() {
		defer running.Done()
		if _, err := copyTraffic(backendConn, clientConn, watchdog); err != nil {
			logger.Debug("Client to backend copy failed", "error", err)
		}
		backendConn.CloseWrite()
	}()
	if _, err := copyTraffic(clientConn, backendConn, watchdog); err != nil {
		logger.Debug("Backend to client copy failed", "error", err)
	}
	clientConn.CloseWrite()
	running.Wait()
}

// copyTraffic is [io.Copy] that feeds the idle watchdog on every chunk.
func copyTraffic(dst io.Writer, src io.Reader, watchdog *idletimer.Watchdog) (int64, error) {
	if watchdog == nil {
		return io.Copy(dst, src)
	}
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			watchdog.Reset()
			w, writeErr := dst.Write(buf[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

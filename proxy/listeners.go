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
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/Jigsaw-Code/socks2unix/transport"
)

// Endpoint designates a stream listener to bind: a TCP socket address or a
// filesystem path for a unix socket.
type Endpoint struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is an ip:port for "tcp", a filesystem path for "unix".
	Address string
}

func (e Endpoint) String() string {
	return e.Network + ":" + e.Address
}

// ParseEndpoint interprets arg as an ip:port; anything that does not parse
// as one is taken as a filesystem path.
func ParseEndpoint(arg string) Endpoint {
	if _, err := netip.ParseAddrPort(arg); err == nil {
		return Endpoint{Network: "tcp", Address: arg}
	}
	return Endpoint{Network: "unix", Address: arg}
}

// Serve binds the configured endpoints, adopts any listeners inherited from
// a supervisor, and accepts sessions until ctx is cancelled or a listener
// fails. It returns once every accept loop has exited and all in-flight
// sessions have drained. Serving zero endpoints is not a valid state and
// fails immediately.
func (s *Service) Serve(ctx context.Context) error {
	// Listener setup is serialized: the umask bracket below must not
	// interleave with other binds in this process.
	listeners, err := s.bindEndpoints()
	if err != nil {
		return err
	}
	listeners = append(listeners, AdoptInheritedListeners(s.logger)...)
	if len(listeners) == 0 {
		return errors.New("no listener could be established")
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		s.logger.Info("Listening", "address", ln.Addr())
		group.Go(func() error { return s.acceptLoop(ctx, ln) })
	}
	// A fatal listener error cancels the group context, which every other
	// accept loop observes as a shutdown.
	err = group.Wait()
	s.sessions.Wait()
	return err
}

// bindEndpoints creates one listener per configured endpoint. Unix socket
// files must never exist with permissive bits, so each unix bind is
// bracketed by a umask that masks out group and other; widening the mask
// only around the bind leaves no window to race against.
func (s *Service) bindEndpoints() ([]net.Listener, error) {
	var listeners []net.Listener
	for _, ep := range s.endpoints {
		ln, err := listenEndpoint(ep)
		if err != nil {
			for _, open := range listeners {
				open.Close()
			}
			return nil, fmt.Errorf("failed to bind %v: %w", ep, err)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func listenEndpoint(ep Endpoint) (net.Listener, error) {
	switch ep.Network {
	case "tcp":
		return net.Listen("tcp", ep.Address)
	case "unix":
		oldMask := unix.Umask(0o077)
		defer unix.Umask(oldMask)
		// The net package unlinks the path again when the listener closes.
		return net.Listen("unix", ep.Address)
	default:
		return nil, fmt.Errorf("unsupported endpoint network %q", ep.Network)
	}
}

// acceptLoop accepts sessions on ln until the shutdown context fires or
// accept fails. An accept failure is fatal for the whole process: the
// returned error cancels the serve group.
func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) error {
	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-ctx.Done():
		case <-exited:
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %v failed: %w", ln.Addr(), err)
		}
		if !s.allowPeer(conn) {
			// Rejected before any bytes are read; the peer never gets a
			// SOCKS reply.
			conn.Close()
			continue
		}
		logger := s.logger.With("client", conn.RemoteAddr().String())
		if uid, err := transport.PeerUID(conn); err == nil {
			logger = logger.With("uid", uid)
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			// Sessions in flight at shutdown are not cancelled; the tracker
			// waits for them to drain.
			s.serveConn(context.WithoutCancel(ctx), conn.(transport.StreamConn), logger)
		}()
	}
}

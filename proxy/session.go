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
	"log/slog"
	"net"
	"strconv"

	"github.com/Jigsaw-Code/socks2unix/socks5"
	"github.com/Jigsaw-Code/socks2unix/transport"
)

// serveConn drives a single SOCKS session: greeting, method selection,
// request, policy check, backend dial, reply, relay. All failures are
// handled here; nothing propagates past the session.
func (s *Service) serveConn(ctx context.Context, clientConn transport.StreamConn, logger *slog.Logger) {
	defer clientConn.Close()

	reader := socks5.NewReader(clientConn)
	greeting, err := reader.ReadGreeting()
	if err != nil {
		logger.Debug("Failed to read greeting", "error", err)
		return
	}
	if !greeting.Contains(socks5.MethodNoAuth) {
		socks5.WriteMethodSelection(clientConn, socks5.MethodNoAcceptable)
		return
	}
	if err := socks5.WriteMethodSelection(clientConn, socks5.MethodNoAuth); err != nil {
		logger.Debug("Failed to write method selection", "error", err)
		return
	}

	req, err := reader.ReadRequest()
	if err != nil {
		// An unsupported address type still gets its reply code; anything
		// else is too broken to answer.
		var code socks5.ReplyCode
		if errors.As(err, &code) {
			s.sendReply(clientConn, code, logger)
		}
		logger.Debug("Failed to read request", "error", err)
		return
	}
	logger = logger.With("target", net.JoinHostPort(req.Host(), strconv.Itoa(int(req.Port))))

	if req.Cmd != socks5.CmdConnect {
		s.sendReply(clientConn, socks5.ErrCommandNotSupported, logger)
		return
	}
	if req.AddrType != socks5.AddrTypeDomainName {
		// The rendezvous layer is name-addressed; IP destinations have no
		// socket to map to.
		s.sendReply(clientConn, socks5.ErrAddressTypeNotSupported, logger)
		return
	}
	if !HostnameAllowed(req.Name) {
		s.sendReply(clientConn, socks5.ErrConnectionNotAllowedByRuleset, logger)
		return
	}

	backendConn, err := s.dialer.DialStream(ctx, net.JoinHostPort(req.Name, strconv.Itoa(int(req.Port))))
	if err != nil {
		logger.Debug("Backend dial failed", "error", err)
		s.sendReply(clientConn, socks5.ErrHostUnreachable, logger)
		return
	}
	defer backendConn.Close()

	// The success reply must be fully written before any backend bytes are
	// forwarded; the relay only starts after this returns.
	if err := socks5.WriteReply(clientConn, socks5.RepSucceeded); err != nil {
		logger.Debug("Failed to write reply", "error", err)
		return
	}

	logger.Debug("Relaying")
	// The reader may hold payload the client sent ahead of the request
	// boundary; it replays those bytes before reading the socket again.
	s.relay(transport.WrapConn(clientConn, reader, clientConn), backendConn, logger)
}

func (s *Service) sendReply(conn transport.StreamConn, code socks5.ReplyCode, logger *slog.Logger) {
	if err := socks5.WriteReply(conn, code); err != nil {
		logger.Debug("Failed to write reply", "code", code, "error", err)
	}
}

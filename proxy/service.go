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

// Package proxy implements the SOCKS5 front-end that bridges authorized
// CONNECT requests to per-destination unix sockets in a rendezvous
// directory. The directory layout is the backend map: one socket file per
// "host_port".
package proxy

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Jigsaw-Code/socks2unix/transport"
)

// Config carries the process-wide proxy configuration. It is read once by
// [NewService]; the resulting Service shares it immutably across all accept
// loops and sessions.
type Config struct {
	// Endpoints to bind listeners at. Inherited supervisor descriptors are
	// adopted in addition to these.
	Endpoints []Endpoint
	// Directory is the rendezvous directory holding backend sockets.
	Directory string
	// AllowedUIDs, when non-nil, restricts connections to peers whose
	// credential uid is in the list. Peers without a known identity (TCP)
	// are rejected. A nil list admits everyone.
	AllowedUIDs []uint32
	// IdleTimeout tears down relays with no traffic in either direction for
	// this long. Zero, the default, keeps idle relays open until a peer
	// closes.
	IdleTimeout time.Duration
	// Logger for service events. Defaults to [slog.Default].
	Logger *slog.Logger
}

// Service is the proxy engine. Create it with [NewService] and run it with
// [Service.Serve].
type Service struct {
	endpoints   []Endpoint
	allowedUIDs map[uint32]bool
	idleTimeout time.Duration
	dialer      transport.StreamDialer
	logger      *slog.Logger

	sessions sync.WaitGroup
}

// NewService validates cfg and creates a [Service].
func NewService(cfg Config) (*Service, error) {
	if cfg.Directory == "" {
		return nil, errors.New("rendezvous directory must be set")
	}
	s := &Service{
		endpoints:   cfg.Endpoints,
		idleTimeout: cfg.IdleTimeout,
		dialer:      &RendezvousDialer{Directory: cfg.Directory},
		logger:      cfg.Logger,
	}
	if cfg.AllowedUIDs != nil {
		s.allowedUIDs = make(map[uint32]bool, len(cfg.AllowedUIDs))
		for _, uid := range cfg.AllowedUIDs {
			s.allowedUIDs[uid] = true
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

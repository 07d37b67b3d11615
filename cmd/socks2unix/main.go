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

// Command socks2unix runs a SOCKS5 front-end that bridges CONNECT requests
// to unix sockets named "{host}_{port}" in a rendezvous directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/Jigsaw-Code/socks2unix/proxy"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags...] SOCKET...\n", path.Base(os.Args[0]))
		fmt.Fprintln(flag.CommandLine.Output(), "Each SOCKET is an ip:port to listen on, or a filesystem path for a unix socket.")
		flag.PrintDefaults()
	}
}

func parseUIDList(value string) ([]uint32, error) {
	uids := []uint32{}
	for _, field := range strings.Split(value, ",") {
		uid, err := strconv.ParseUint(strings.TrimSpace(field), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid uid %q: %w", field, err)
		}
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

func main() {
	directoryFlag := flag.String("directory", "", "rendezvous directory holding the backend sockets (required)")
	allowedUIDsFlag := flag.String("allowed-uids", "", "comma-separated peer user ids allowed to connect (default: everyone)")
	idleTimeoutFlag := flag.Duration("idle-timeout", 0, "tear down relays idle for this long (0 disables)")
	verboseFlag := flag.Bool("verbose", false, "enable debug output")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verboseFlag {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(
		os.Stderr,
		&tint.Options{NoColor: !term.IsTerminal(int(os.Stderr.Fd())), Level: logLevel},
	)))

	if *directoryFlag == "" {
		slog.Error("Flag --directory is required")
		flag.Usage()
		os.Exit(2)
	}

	config := proxy.Config{
		Directory:   *directoryFlag,
		IdleTimeout: *idleTimeoutFlag,
	}
	for _, arg := range flag.Args() {
		config.Endpoints = append(config.Endpoints, proxy.ParseEndpoint(arg))
	}
	if *allowedUIDsFlag != "" {
		uids, err := parseUIDList(*allowedUIDsFlag)
		if err != nil {
			slog.Error("Invalid --allowed-uids", "error", err)
			os.Exit(2)
		}
		config.AllowedUIDs = uids
	}

	service, err := proxy.NewService(config)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()
	if err := service.Serve(ctx); err != nil {
		slog.Error("Proxy failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down", "uptime", time.Since(start))
}

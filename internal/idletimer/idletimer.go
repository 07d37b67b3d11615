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

/*
Package idletimer includes a [Watchdog] that fires after a configurable period
without activity. Here is an example of how to use it:

	w := idletimer.New(30 * time.Second)
	defer w.Stop() // to prevent resource leaks
	// call w.Reset() whenever bytes flow
	<-w.Expired()  // unblocks after 30 idle seconds
*/
package idletimer

import (
	"sync"
	"time"
)

// Watchdog fires after a fixed duration with no [Watchdog.Reset] calls.
// Once fired it stays fired: later Resets do not rearm it, so multiple
// subscribers to [Watchdog.Expired] all observe the same expiry.
//
// Watchdog is safe for concurrent use by multiple goroutines.
type Watchdog struct {
	mu sync.Mutex

	d time.Duration
	t *time.Timer
	c chan struct{}
}

// New creates a Watchdog armed with duration d. It starts counting
// immediately.
func New(d time.Duration) *Watchdog {
	w := &Watchdog{d: d, c: make(chan struct{})}
	w.t = time.AfterFunc(d, func() { close(w.c) })
	return w
}

// Expired returns a readonly channel that is closed once the idle period has
// elapsed. This channel can be safely subscribed to by multiple listeners.
func (w *Watchdog) Expired() <-chan struct{} {
	return w.c
}

// Reset pushes the expiry out by the full idle duration. It is a no-op after
// the Watchdog has fired or been stopped.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t == nil || !w.t.Stop() {
		// Already fired or stopped; expiry is monotonic.
		return
	}
	w.t.Reset(w.d)
}

// Stop disarms the Watchdog without firing it. It does not close the
// Expired channel.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
		w.t = nil
	}
}

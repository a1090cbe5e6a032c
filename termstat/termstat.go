// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package termstat implements erpdk.Statter by printing running counter
// totals to a terminal.
package termstat

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector accumulates counts and rewrites a single status line on out
// whenever they change.
type Collector struct {
	lock    sync.Mutex
	totals  map[string]int64
	changed bool
	out     io.Writer
}

// NewCollector gets a Collector writing to out. Nothing is written until
// Run is called.
func NewCollector(out io.Writer) *Collector {
	return &Collector{
		totals: make(map[string]int64),
		out:    out,
	}
}

// Run writes the status line every interval until ctx is done, then writes
// it a final time followed by a newline.
func (t *Collector) Run(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			t.write(true)
			fmt.Fprintln(t.out)
			return
		case <-tick.C:
			t.write(false)
		}
	}
}

// Line returns the current status line.
func (t *Collector) Line() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.line()
}

func (t *Collector) line() string {
	names := make([]string, 0, len(t.totals))
	for name := range t.totals {
		names = append(names, name)
	}
	sort.Strings(names)
	sb := strings.Builder{}
	for i, name := range names {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s: %d", name, t.totals[name])
	}
	return sb.String()
}

func (t *Collector) write(force bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.changed && !force {
		return
	}
	t.changed = false
	fmt.Fprint(t.out, "\r"+t.line())
}

// Count adds value to the total for name. Tags are ignored.
func (t *Collector) Count(name string, value int64, rate float64, tags ...string) {
	if rate < 1 && rand.Float64() > rate {
		return
	}
	t.lock.Lock()
	t.totals[name] += value
	t.changed = true
	t.lock.Unlock()
}

func (t *Collector) Gauge(name string, value float64, rate float64, tags ...string) {}

func (t *Collector) Histogram(name string, value float64, rate float64, tags ...string) {}

func (t *Collector) Set(name string, value string, rate float64, tags ...string) {}

func (t *Collector) Timing(name string, value time.Duration, rate float64, tags ...string) {}

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

package http

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pilosa/erpdk"
	erjson "github.com/pilosa/erpdk/json"
	"github.com/pkg/errors"
)

// JSONSource implements the erpdk.Source interface by listening for HTTP post
// requests and decoding json records from their bodies. Each request body is
// one batch, and the request does not complete until the batch has been
// committed, so a client which gets a 200 knows its records were resolved.
type JSONSource struct {
	addr     string
	listener net.Listener
	server   *http.Server
	batches  chan *postBatch
	log      erpdk.Logger

	closeOnce sync.Once
	closing   chan struct{}
	serveErr  chan error
}

// WithAddr is an option for the JSONSource which causes it to bind to the given
// address.
func WithAddr(addr string) JSONSourceOption {
	return func(j *JSONSource) {
		j.addr = addr
	}
}

// WithListener is an option for JSONSource which causes it to use the given
// listener. It will infer the address from the listener.
func WithListener(l net.Listener) JSONSourceOption {
	return func(j *JSONSource) {
		j.listener = l
		j.addr = l.Addr().String()
	}
}

// WithBuffer is an option for JSONSource which modifies the length of the
// channel used to buffer received batches while they are waiting to be
// retrieved by a call to NextBatch.
func WithBuffer(n int) JSONSourceOption {
	return func(j *JSONSource) {
		if n > -1 {
			j.batches = make(chan *postBatch, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log erpdk.Logger) JSONSourceOption {
	return func(j *JSONSource) {
		j.log = log
	}
}

// JSONSourceOption is a functional option type for JSONSource.
type JSONSourceOption func(j *JSONSource)

// NewJSONSource creates a JSONSource and starts serving - it takes
// JSONSourceOptions which modify its behavior.
func NewJSONSource(opts ...JSONSourceOption) (*JSONSource, error) {
	j := &JSONSource{
		batches:  make(chan *postBatch),
		log:      erpdk.NopLogger{},
		closing:  make(chan struct{}),
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(j)
	}

	if j.listener == nil {
		var err error
		j.listener, err = net.Listen("tcp", j.addr)
		if err != nil {
			return nil, errors.Wrap(err, "listening")
		}
	}
	if tl, ok := j.listener.(*net.TCPListener); ok {
		j.listener = tcpKeepAliveListener{tl}
	}

	j.server = &http.Server{
		Addr:              j.addr,
		Handler:           j,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		err := j.server.Serve(j.listener)
		if err != nil && err != http.ErrServerClosed {
			j.serveErr <- errors.Wrap(err, "serving")
		}
	}()
	return j, nil
}

// Addr gets the address that the JSONSource is listening on.
func (j *JSONSource) Addr() string {
	if j.listener != nil {
		return j.listener.Addr().String()
	}
	return j.addr
}

// Close stops accepting requests. Requests whose batch has not been committed
// get a 503, and NextBatch returns io.EOF.
func (j *JSONSource) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.closing)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = j.server.Shutdown(ctx)
	})
	return errors.Wrap(err, "shutting down http source")
}

type postBatch struct {
	recs []erpdk.Record
	done chan struct{}
	once sync.Once
}

func (b *postBatch) Records() []erpdk.Record { return b.recs }

func (b *postBatch) Commit() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

// NextBatch implements erpdk.Source.
func (j *JSONSource) NextBatch(ctx context.Context) (erpdk.Batch, error) {
	select {
	case b := <-j.batches:
		return b, nil
	case err := <-j.serveErr:
		return nil, err
	case <-j.closing:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type response struct {
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

func writeResponse(w http.ResponseWriter, code int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeHTTP implements http.Handler for JSONSource
func (j *JSONSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		err := errors.Errorf("unsupported method: %v", r.Method)
		j.log.Printf("%v", err)
		writeResponse(w, http.StatusMethodNotAllowed, response{Error: err.Error()})
		return
	}
	recs, err := erjson.ReadRecords(r.Body)
	if err != nil {
		err := errors.Wrap(err, "decoding json")
		j.log.Printf("%v", err)
		writeResponse(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}
	if len(recs) == 0 {
		writeResponse(w, http.StatusOK, response{})
		return
	}

	b := &postBatch{recs: recs, done: make(chan struct{})}
	select {
	case j.batches <- b:
	case <-j.closing:
		writeResponse(w, http.StatusServiceUnavailable, response{Error: "source closed"})
		return
	case <-r.Context().Done():
		return
	}
	select {
	case <-b.done:
		writeResponse(w, http.StatusOK, response{Records: len(recs)})
	case <-j.closing:
		writeResponse(w, http.StatusServiceUnavailable, response{Error: "source closed before batch was committed"})
	case <-r.Context().Done():
		j.log.Debugf("client went away before batch of %d records was committed", len(recs))
	}
}

// tcpKeepAliveListener is copied from net/http

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

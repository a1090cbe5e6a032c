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

// Package csv reads records from comma separated files with a header line.
// Empty fields are dropped, so every record only carries populated fields.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
)

var _ erpdk.RecordSource = &Source{}

// Source is an erpdk.RecordSource which reads a list of CSV files or URLs,
// some of them concurrently.
type Source struct {
	files       []*file
	maxRetries  int
	concurrency int
	log         erpdk.Logger

	records chan record
}

// NewSource starts reading immediately.
func NewSource(options ...Option) *Source {
	src := &Source{
		records:     make(chan record),
		maxRetries:  3,
		concurrency: 1,
		log:         erpdk.NopLogger{},
	}

	for _, opt := range options {
		opt(src)
	}
	go src.getRecords()
	return src
}

type Option func(*Source)

// WithURLs adds files by path or http(s) URL.
func WithURLs(urls []string) Option {
	return func(s *Source) {
		for _, url := range urls {
			s.files = append(s.files, &file{OpenStringer: urlOpener(url)})
		}
	}
}

// WithOpenStringers adds arbitrary openable inputs.
func WithOpenStringers(os []OpenStringer) Option {
	return func(s *Source) {
		for _, os := range os {
			s.files = append(s.files, &file{OpenStringer: os})
		}
	}
}

func WithMaxRetries(maxRetries int) Option {
	return func(s *Source) {
		s.maxRetries = maxRetries
	}
}

func WithConcurrency(c int) Option {
	return func(s *Source) {
		if c > 0 {
			s.concurrency = c
		}
	}
}

func WithLogger(log erpdk.Logger) Option {
	return func(s *Source) {
		s.log = log
	}
}

type file struct {
	OpenStringer
	line int // tracks how many records of this file we've delivered.
}

type Opener interface {
	Open() (io.ReadCloser, error)
}

type OpenStringer interface {
	fmt.Stringer
	Opener
}

type urlOpener string

func (u urlOpener) Open() (io.ReadCloser, error) {
	url := string(u)
	var content io.ReadCloser
	if strings.HasPrefix(url, "http") {
		resp, err := http.Get(url)
		if err != nil {
			return nil, errors.Wrap(err, "getting via http")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, errors.Errorf("getting via http: %s", resp.Status)
		}
		content = resp.Body
	} else {
		f, err := os.Open(url)
		if err != nil {
			return nil, errors.Wrap(err, "opening file")
		}
		content = f
	}
	return content, nil
}

func (u urlOpener) String() string {
	return string(u)
}

// Record implements erpdk.RecordSource.
func (c *Source) Record() (erpdk.Record, error) {
	rec, ok := <-c.records
	if !ok {
		return nil, io.EOF
	}
	return rec.rec, rec.err
}

type record struct {
	rec erpdk.Record
	err error
}

func (c *Source) getRecords() {
	fileChan := make(chan *file, c.concurrency)
	wg := sync.WaitGroup{}
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			for file := range fileChan {
				c.getRows(file)
			}
			wg.Done()
		}()
	}
	for _, file := range c.files {
		fileChan <- file
	}
	close(fileChan)
	wg.Wait()
	close(c.records)
}

func (c *Source) getRows(file *file) {
	var err error
	for try := 0; try < c.maxRetries; try++ {
		err = c.getRowTry(file)
		if err == nil {
			return
		}
		c.log.Printf("reading %s (try %d): %v", file, try+1, err)
	}
	c.records <- record{err: errors.Wrapf(err, "couldn't fetch '%s' - tried %d times, latest", file, c.maxRetries)}
}

func (c *Source) getRowTry(file *file) error {
	content, err := file.Open()
	if err != nil {
		return errors.Wrap(err, "opening")
	}
	defer content.Close()

	r, header, err := newReader(content)
	if err == io.EOF {
		return nil // empty file
	} else if err != nil {
		if _, ok := errors.Cause(err).(*csv.ParseError); ok {
			c.records <- record{err: errors.Wrapf(err, "reading header of %s", file)}
			return nil // error is permanent so we don't return to getRows for retry
		}
		return err
	}
	if err := validateHeader(header); err != nil {
		c.records <- record{err: errors.Wrapf(err, "validating header of %s", file)}
		return nil
	}
	// catch up to previous location
	for line := 0; line < file.line; line++ {
		if _, err := r.Read(); err != nil {
			if _, ok := err.(*csv.ParseError); !ok {
				return errors.Wrapf(err, "skipping to record %d of '%s'", file.line, file)
			}
		}
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		} else if perr, ok := err.(*csv.ParseError); ok {
			file.line++
			c.records <- record{err: errors.Wrapf(perr, "file %s: parsing record %d", file, file.line)}
			continue
		} else if err != nil {
			return errors.Wrapf(err, "reading '%s' after record %d", file, file.line)
		}
		file.line++
		rec, err := parseRecord(header, row)
		if err != nil {
			c.records <- record{err: errors.Wrapf(err, "file %s: parsing record %d", file, file.line)}
			continue
		}
		c.records <- record{rec: rec}
	}
}

func newReader(content io.Reader) (*csv.Reader, []string, error) {
	r := csv.NewReader(content)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return r, header, nil
}

// ReadRecords reads every record from a single CSV document.
func ReadRecords(content io.Reader) ([]erpdk.Record, error) {
	r, header, err := newReader(content)
	if err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	if err := validateHeader(header); err != nil {
		return nil, errors.Wrap(err, "validating header")
	}
	var ret []erpdk.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			return ret, nil
		} else if err != nil {
			return nil, errors.Wrapf(err, "reading record %d", len(ret)+1)
		}
		rec, err := parseRecord(header, row)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing record %d", len(ret)+1)
		}
		ret = append(ret, rec)
	}
}

func parseRecord(header []string, row []string) (erpdk.Record, error) {
	if len(header) > len(row) {
		return nil, errors.Errorf("header/row len mismatch: %dvs%d, %v and %v", len(header), len(row), header, row)
	} else if len(row) > len(header) {
		for i := len(header); i < len(row); i++ {
			if strings.TrimSpace(row[i]) != "" {
				return nil, errors.Errorf("data in non headered field %d: %v", i, row)
			}
		}
	}
	ret := make(erpdk.Record, len(header))
	for i := 0; i < len(header); i++ {
		ret.Set(header[i], row[i])
	}
	return ret, nil
}

func validateHeader(header []string) error {
	fields := make(map[string]int)
	for i, h := range header {
		if h == "" {
			return errors.Errorf("header contains empty string at %d: %v", i, header)
		}
		if pos, exists := fields[h]; exists {
			return errors.Errorf("%s appeared at both %d and %d in header", h, pos, i)
		}
		fields[h] = i
	}
	return nil
}

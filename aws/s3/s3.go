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

// Package s3 reads records from objects in an S3 bucket. Each object is
// delivered as one micro-batch, and committing the batch checkpoints the
// object so that it is skipped on a later run.
package s3

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/format"
	"github.com/pkg/errors"
)

type SrcOption func(s *Source)

func OptSrcBucket(bucket string) SrcOption {
	return func(s *Source) {
		s.bucket = bucket
	}
}

func OptSrcRegion(region string) SrcOption {
	return func(s *Source) {
		s.region = region
	}
}

func OptSrcPrefix(prefix string) SrcOption {
	return func(s *Source) {
		s.prefix = prefix
	}
}

// OptSrcEndpoint points the source at an S3 compatible service such as
// minio.
func OptSrcEndpoint(endpoint string) SrcOption {
	return func(s *Source) {
		s.endpoint = endpoint
	}
}

// OptSrcCheckpointer skips objects which are already done, and marks each
// object done when its batch is committed.
func OptSrcCheckpointer(cp erpdk.Checkpointer) SrcOption {
	return func(s *Source) {
		s.cp = cp
	}
}

// OptSrcClient uses the given client instead of creating one.
func OptSrcClient(client s3iface.S3API) SrcOption {
	return func(s *Source) {
		s.client = client
	}
}

func OptSrcLogger(log erpdk.Logger) SrcOption {
	return func(s *Source) {
		s.log = log
	}
}

var _ erpdk.Source = &Source{}

// Source is an erpdk.Source which delivers one batch per object.
type Source struct {
	bucket   string
	prefix   string
	region   string
	endpoint string
	client   s3iface.S3API
	cp       erpdk.Checkpointer
	log      erpdk.Logger

	rs *RawSource
}

func NewSource(opts ...SrcOption) (s *Source, err error) {
	s = &Source{
		log: erpdk.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client, err = NewClient(s.region, s.endpoint)
		if err != nil {
			return nil, err
		}
	}
	s.rs, err = newRawSource(s.client, s.bucket, s.prefix)
	if err != nil {
		return nil, errors.Wrap(err, "getting raw s3 source")
	}
	return s, nil
}

// NextBatch implements erpdk.Source.
func (s *Source) NextBatch(ctx context.Context) (erpdk.Batch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reader, err := s.rs.NextReader()
		if err != nil {
			return nil, err
		}
		if s.cp != nil {
			done, err := s.cp.Done(s.checkpointName(reader.Name()))
			if err != nil {
				reader.Close()
				return nil, errors.Wrap(err, "checking checkpoint")
			}
			if done {
				s.log.Debugf("skipping %s: already processed", reader.Name())
				reader.Close()
				continue
			}
		}
		recs, err := format.Read(reader.Name(), reader)
		reader.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading s3://%s/%s", s.bucket, reader.Name())
		}
		s.log.Debugf("read %d records from %s", len(recs), reader.Name())
		return &objectBatch{src: s, key: reader.Name(), recs: recs}, nil
	}
}

func (s *Source) checkpointName(key string) string {
	return "s3://" + s.bucket + "/" + key
}

type objectBatch struct {
	src  *Source
	key  string
	recs []erpdk.Record
}

func (b *objectBatch) Records() []erpdk.Record { return b.recs }

func (b *objectBatch) Commit() error {
	if b.src.cp == nil {
		return nil
	}
	return errors.Wrap(b.src.cp.MarkDone(b.src.checkpointName(b.key)), "checkpointing object")
}

// NewClient gets an S3 client for region. A non-empty endpoint selects an
// S3 compatible service with path style addressing.
func NewClient(region, endpoint string) (*s3.S3, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "getting aws session")
	}
	return s3.New(sess), nil
}

// RawSource is an erpdk.RawSource over the objects under a prefix. It is
// threadsafe.
type RawSource struct {
	bucket string
	prefix string

	s3 s3iface.S3API

	mu      sync.Mutex
	objects []*s3.Object
}

// NewRawSource lists the objects in bucket under prefix.
func NewRawSource(region, bucket, prefix string) (*RawSource, error) {
	client, err := NewClient(region, "")
	if err != nil {
		return nil, err
	}
	return newRawSource(client, bucket, prefix)
}

func newRawSource(client s3iface.S3API, bucket, prefix string) (*RawSource, error) {
	rs := &RawSource{
		bucket: bucket,
		prefix: prefix,
		s3:     client,
	}
	err := rs.s3.ListObjectsPages(&s3.ListObjectsInput{Bucket: aws.String(rs.bucket), Prefix: aws.String(rs.prefix)},
		func(page *s3.ListObjectsOutput, lastPage bool) bool {
			for _, obj := range page.Contents {
				if strings.HasSuffix(*obj.Key, "/") {
					continue // directory marker
				}
				rs.objects = append(rs.objects, obj)
			}
			return true
		})
	if err != nil {
		return nil, errors.Wrap(err, "listing objects")
	}
	return rs, nil
}

type objReader struct {
	name string
	body io.ReadCloser
}

func (o *objReader) Read(buf []byte) (n int, err error) {
	return o.body.Read(buf)
}

func (o *objReader) Close() error {
	return o.body.Close()
}

func (o *objReader) Name() string {
	return o.name
}

// NextReader implements erpdk.RawSource.
func (rs *RawSource) NextReader() (erpdk.NamedReadCloser, error) {
	rs.mu.Lock()
	if len(rs.objects) == 0 {
		rs.mu.Unlock()
		return nil, io.EOF
	}
	obj := rs.objects[0]
	rs.objects = rs.objects[1:]
	rs.mu.Unlock()

	result, err := rs.s3.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(rs.bucket),
		Key:    aws.String(*obj.Key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %v", *obj.Key)
	}
	return &objReader{name: *obj.Key, body: result.Body}, nil
}

// Download copies the object at key to w.
func Download(ctx context.Context, client s3iface.S3API, bucket, key string, w io.Writer) (int64, error) {
	result, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "fetching s3://%s/%s", bucket, key)
	}
	defer result.Body.Close()
	n, err := io.Copy(w, result.Body)
	return n, errors.Wrapf(err, "copying s3://%s/%s", bucket, key)
}

// ParseURL splits an s3://bucket/key URL.
func ParseURL(url string) (bucket, key string, err error) {
	if !strings.HasPrefix(url, "s3://") {
		return "", "", errors.Errorf("not an s3 url: %s", url)
	}
	parts := strings.SplitN(strings.TrimPrefix(url, "s3://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("s3 url needs a bucket and key: %s", url)
	}
	return parts[0], parts[1], nil
}

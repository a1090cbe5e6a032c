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

package s3

import (
	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/ingest"
)

// Main ingests every object under a prefix of an S3 bucket.
type Main struct {
	ingest.Main `flag:"!embed"`

	Bucket   string `help:"S3 bucket name from which to read objects."`
	Prefix   string `help:"Only objects in the bucket matching this prefix will be used."`
	Region   string `help:"AWS region to use."`
	Endpoint string `help:"Endpoint of an S3 compatible service. Empty means AWS."`
}

func NewMain() *Main {
	m := &Main{
		Main:   *ingest.NewMain(),
		Bucket: "erpdk-test-bucket",
		Region: "us-east-1",
	}
	m.NewSource = func() (erpdk.Source, error) {
		opts := []SrcOption{
			OptSrcBucket(m.Bucket),
			OptSrcPrefix(m.Prefix),
			OptSrcRegion(m.Region),
			OptSrcEndpoint(m.Endpoint),
			OptSrcLogger(m.Log()),
		}
		if cp := m.Checkpointer(); cp != nil {
			opts = append(opts, OptSrcCheckpointer(cp))
		}
		return NewSource(opts...)
	}
	return m
}

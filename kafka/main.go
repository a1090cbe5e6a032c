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

package kafka

import (
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pilosa/erpdk/ingest"
)

// Main ingests micro-batches of records from Kafka topics.
type Main struct {
	ingest.Main `flag:"!embed"`

	Hosts       []string      `help:"Comma separated list of Kafka hosts and ports"`
	Topics      []string      `help:"Comma separated list of Kafka topics"`
	Group       string        `help:"Kafka group"`
	RegistryURL string        `help:"Address of the confluent schema registry. Pass an empty string to use JSON instead of Avro."`
	MaxBatch    int           `help:"Maximum number of messages in a batch."`
	BatchWait   time.Duration `help:"Maximum time to wait for a batch to fill after its first message."`
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	m := &Main{
		Main:        *ingest.NewMain(),
		Hosts:       []string{"localhost:9092"},
		Topics:      []string{"test"},
		Group:       "group0",
		RegistryURL: "localhost:8081",
		MaxBatch:    100,
		BatchWait:   time.Second,
	}
	m.NewSource = func() (erpdk.Source, error) {
		var src *Source
		if m.RegistryURL == "" {
			src = NewSource()
		} else {
			csrc := NewConfluentSource()
			csrc.RegistryURL = m.RegistryURL
			src = &csrc.Source
		}
		src.Hosts = m.Hosts
		src.Topics = m.Topics
		src.Group = m.Group
		src.MaxBatch = m.MaxBatch
		src.BatchWait = m.BatchWait
		src.Log = m.Log()
		if err := src.Open(); err != nil {
			return nil, err
		}
		return src, nil
	}
	return m
}

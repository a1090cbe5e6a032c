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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/elodina/go-avro"
	"github.com/pilosa/erpdk"
	erjson "github.com/pilosa/erpdk/json"
	"github.com/pkg/errors"
)

// Consumer is the part of a sarama-cluster consumer which Source uses.
type Consumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	MarkOffset(msg *sarama.ConsumerMessage, metadata string)
	Close() error
}

// Source is an erpdk.Source which reads micro-batches of messages from
// Kafka topics. A batch holds up to MaxBatch messages, or whatever arrived
// within BatchWait of its first message. Offsets are only marked once a
// batch and every batch delivered before it have been committed, so a
// restart redelivers anything not fully resolved.
type Source struct {
	Hosts     []string
	Topics    []string
	Group     string
	MaxBatch  int
	BatchWait time.Duration
	Log       erpdk.Logger

	// Decode converts one message into records. It defaults to reading the
	// message value as JSON objects.
	Decode func(msg *sarama.ConsumerMessage) ([]erpdk.Record, error)

	consumer Consumer

	mu sync.Mutex

	commitMu sync.Mutex
	inflight []*msgBatch
}

// NewSource gets a Source with default settings.
func NewSource() *Source {
	s := &Source{}
	s.setDefaults()
	return s
}

func (s *Source) setDefaults() {
	s.Hosts = []string{"localhost:9092"}
	s.Topics = []string{"test"}
	s.Group = "group0"
	s.MaxBatch = 100
	s.BatchWait = time.Second
	s.Log = erpdk.NopLogger{}
	s.Decode = DecodeJSON
}

// DecodeJSON reads the value of msg as a stream of JSON objects.
func DecodeJSON(msg *sarama.ConsumerMessage) ([]erpdk.Record, error) {
	return erjson.ReadRecords(bytes.NewReader(msg.Value))
}

// Open connects to Kafka and joins the consumer group.
func (s *Source) Open() error {
	// init (custom) config, enable errors and notifications
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	consumer, err := cluster.NewConsumer(s.Hosts, s.Group, s.Topics, config)
	if err != nil {
		return errors.Wrap(err, "getting new consumer")
	}

	// consume errors
	go func() {
		for err := range consumer.Errors() {
			s.Log.Printf("kafka consumer error: %v", err)
		}
	}()

	// consume notifications
	go func() {
		for ntf := range consumer.Notifications() {
			s.Log.Printf("kafka rebalanced: %+v", ntf)
		}
	}()
	s.consumer = consumer
	return nil
}

// OpenWith uses c instead of connecting to Kafka.
func (s *Source) OpenWith(c Consumer) {
	s.consumer = c
}

// Close leaves the consumer group. Marked offsets are committed first.
func (s *Source) Close() error {
	if s.consumer == nil {
		return nil
	}
	err := s.consumer.Close()
	return errors.Wrap(err, "closing kafka consumer")
}

// NextBatch implements erpdk.Source. It returns io.EOF once the consumer has
// been closed.
func (s *Source) NextBatch(ctx context.Context) (erpdk.Batch, error) {
	if s.consumer == nil {
		return nil, errors.New("kafka source is not open")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.consumer.Messages()

	var first *sarama.ConsumerMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-msgs:
		if !ok {
			return nil, io.EOF
		}
		first = msg
	}

	b := &msgBatch{src: s, msgs: []*sarama.ConsumerMessage{first}}
	timer := time.NewTimer(s.BatchWait)
	defer timer.Stop()
collect:
	for len(b.msgs) < s.MaxBatch {
		select {
		case msg, ok := <-msgs:
			if !ok {
				break collect
			}
			b.msgs = append(b.msgs, msg)
		case <-timer.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	for _, msg := range b.msgs {
		recs, err := s.Decode(msg)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding message %s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		}
		b.recs = append(b.recs, recs...)
	}
	s.commitMu.Lock()
	s.inflight = append(s.inflight, b)
	s.commitMu.Unlock()
	return b, nil
}

// commit marks the offsets of every leading committed batch.
func (s *Source) commit(b *msgBatch) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	b.committed = true
	for len(s.inflight) > 0 && s.inflight[0].committed {
		for _, msg := range s.inflight[0].msgs {
			s.consumer.MarkOffset(msg, "")
		}
		s.inflight = s.inflight[1:]
	}
}

type msgBatch struct {
	src       *Source
	msgs      []*sarama.ConsumerMessage
	recs      []erpdk.Record
	committed bool
}

func (b *msgBatch) Records() []erpdk.Record { return b.recs }

func (b *msgBatch) Commit() error {
	b.src.commit(b)
	return nil
}

// ConfluentSource is a Source for Avro encoded messages whose schemas are
// kept in a Confluent schema registry.
type ConfluentSource struct {
	Source
	RegistryURL string
	lock        sync.RWMutex
	cache       map[int32]avro.Schema
	client      *http.Client
}

// NewConfluentSource gets a ConfluentSource with default settings.
func NewConfluentSource() *ConfluentSource {
	src := &ConfluentSource{
		RegistryURL: "localhost:8081",
		cache:       make(map[int32]avro.Schema),
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	src.setDefaults()
	src.Decode = src.decode
	return src
}

func (s *ConfluentSource) decode(msg *sarama.ConsumerMessage) ([]erpdk.Record, error) {
	val, err := s.decodeAvroValueWithSchemaRegistry(msg.Value)
	if err != nil {
		return nil, err
	}
	rec, err := erpdk.NewRecord(val)
	if err != nil {
		return nil, errors.Wrap(err, "converting avro record")
	}
	return []erpdk.Record{rec}, nil
}

func (s *ConfluentSource) decodeAvroValueWithSchemaRegistry(val []byte) (map[string]interface{}, error) {
	if len(val) <= 6 || val[0] != 0 {
		return nil, errors.Errorf("unexpected magic byte or length in avro kafka value, should be 0x00, but got 0x%.8s", val)
	}
	id := int32(binary.BigEndian.Uint32(val[1:]))
	codec, err := s.getCodec(id)
	if err != nil {
		return nil, errors.Wrap(err, "getting avro codec")
	}
	ret, err := avroDecode(codec, val[5:])
	return ret, errors.Wrap(err, "decoding avro record")
}

// Schema is a schema registry response.
type Schema struct {
	Schema  string `json:"schema"`  // The actual AVRO schema
	Subject string `json:"subject"` // Subject where the schema is registered for
	Version int    `json:"version"` // Version within this subject
	ID      int    `json:"id"`      // Registry's unique id
}

func (s *ConfluentSource) getCodec(id int32) (avro.Schema, error) {
	s.lock.RLock()
	if codec, ok := s.cache[id]; ok {
		s.lock.RUnlock()
		return codec, nil
	}
	s.lock.RUnlock()
	s.lock.Lock()
	defer s.lock.Unlock()
	if codec, ok := s.cache[id]; ok {
		return codec, nil
	}
	r, err := s.client.Get(fmt.Sprintf("http://%s/schemas/ids/%d", s.RegistryURL, id))
	if err != nil {
		return nil, errors.Wrap(err, "getting schema from registry")
	}
	defer r.Body.Close()
	if r.StatusCode >= 300 {
		bod, err := ioutil.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get schema, code: %d, no body", r.StatusCode)
		}
		return nil, errors.Errorf("failed to get schema, code: %d, resp: %s", r.StatusCode, bod)
	}
	schema := &Schema{}
	if err := json.NewDecoder(r.Body).Decode(schema); err != nil {
		return nil, errors.Wrap(err, "decoding schema from registry")
	}
	codec, err := avro.ParseSchema(schema.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "parsing schema")
	}
	s.cache[id] = codec
	return codec, nil
}

func avroDecode(codec avro.Schema, data []byte) (map[string]interface{}, error) {
	reader := avro.NewGenericDatumReader()
	// SetSchema must be called before calling Read
	reader.SetSchema(codec)

	decoder := avro.NewBinaryDecoder(data)
	decodedRecord := avro.NewGenericRecord(codec)
	if err := reader.Read(decodedRecord, decoder); err != nil {
		return nil, errors.Wrap(err, "reading generic datum")
	}
	return decodedRecord.Map(), nil
}

package erpdk

import (
	"time"
)

// Statter is the interface that stats collectors must implement to get stats
// out of erpdk.
type Statter interface {
	Count(name string, value int64, rate float64, tags ...string)
	Gauge(name string, value float64, rate float64, tags ...string)
	Histogram(name string, value float64, rate float64, tags ...string)
	Set(name string, value string, rate float64, tags ...string)
	Timing(name string, value time.Duration, rate float64, tags ...string)
}

// NopStatter does nothing.
type NopStatter struct{}

// Count does nothing.
func (NopStatter) Count(name string, value int64, rate float64, tags ...string) {}

// Gauge does nothing.
func (NopStatter) Gauge(name string, value float64, rate float64, tags ...string) {}

// Histogram does nothing.
func (NopStatter) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (NopStatter) Set(name string, value string, rate float64, tags ...string) {}

// Timing does nothing.
func (NopStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {}

// MultiStatter sends stats to each of its Statters.
type MultiStatter []Statter

// Count implements Statter.
func (m MultiStatter) Count(name string, value int64, rate float64, tags ...string) {
	for _, s := range m {
		s.Count(name, value, rate, tags...)
	}
}

// Gauge implements Statter.
func (m MultiStatter) Gauge(name string, value float64, rate float64, tags ...string) {
	for _, s := range m {
		s.Gauge(name, value, rate, tags...)
	}
}

// Histogram implements Statter.
func (m MultiStatter) Histogram(name string, value float64, rate float64, tags ...string) {
	for _, s := range m {
		s.Histogram(name, value, rate, tags...)
	}
}

// Set implements Statter.
func (m MultiStatter) Set(name string, value string, rate float64, tags ...string) {
	for _, s := range m {
		s.Set(name, value, rate, tags...)
	}
}

// Timing implements Statter.
func (m MultiStatter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	for _, s := range m {
		s.Timing(name, value, rate, tags...)
	}
}

// Logger is the interface that loggers must implement to get erpdk logs. The
// standard and verbose loggers in github.com/pilosa/pilosa/logger satisfy it.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

// NopLogger logs nothing.
type NopLogger struct{}

// Printf does nothing.
func (NopLogger) Printf(format string, v ...interface{}) {}

// Debugf does nothing.
func (NopLogger) Debugf(format string, v ...interface{}) {}

// Indexer exports which entities were affected by which batch, e.g. into
// Pilosa where a row is a batch and a column is an entity.
type Indexer interface {
	AddAffected(field string, batch uint64, entityID uint64)
	Close() error
}

// NopIndexer exports nothing.
type NopIndexer struct{}

// AddAffected does nothing.
func (NopIndexer) AddAffected(field string, batch uint64, entityID uint64) {}

// Close does nothing.
func (NopIndexer) Close() error { return nil }

// EntityStore durably records affected entity ids so they survive the
// process.
type EntityStore interface {
	AddEntities(ids []int64) error
	Entities() ([]int64, error)
	Close() error
}

// Checkpointer records which named inputs (files, objects) have been fully
// processed.
type Checkpointer interface {
	Done(name string) (bool, error)
	MarkDone(names ...string) error
}

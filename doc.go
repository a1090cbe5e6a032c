// Package erpdk is the Entity Resolution Dev Kit. It contains the pieces needed
// to stream records into a remote entity resolution engine, and to keep track
// of which resolved entities were touched along the way.
//
// The ingest path is made up of a few stages. Interfaces and basic
// implementations of each stage live in this package, and implementations
// which rely on other software (Kafka, S3, gRPC, BoltDB...) are in
// sub-packages.
//
// 1. Source
//
//    An erpdk.Source delivers micro-batches of records. A micro-batch is
//    whatever arrived since the last time the Source was asked - the new
//    files in a watched directory, a window of Kafka messages, the body of an
//    HTTP POST. Sources which naturally produce one record at a time (a CSV
//    file, a stream of JSON objects) implement RecordSource instead and are
//    grouped into batches by a Batcher. Each Batch has a Commit method which
//    is called only after every record in it has been resolved, so sources
//    which can redeliver (Kafka offsets, file checkpoints) give at-least-once
//    delivery.
//
// 2. Dispatcher
//
//    The Dispatcher takes a micro-batch and submits its records to the
//    Resolver one at a time, in delivery order, asking for the affected
//    entities to be reported back. Every reported entity id is merged into an
//    EntitySet owned by the caller. The first failure stops the batch; there
//    is no retry and no skip-and-continue, since silently dropping records
//    hides data quality problems.
//
// 3. Resolver
//
//    The Resolver is the client side of the remote engine. The engine owns
//    matching, storage, and the redo queue; this package only describes the
//    three calls it needs (add a record, get a redo unit, process a redo
//    unit) and the typed failures they can produce.
//
// 4. Drain
//
//    Resolving one record can leave other entities needing re-evaluation. The
//    engine queues that work as redo units, and Dispatcher.Drain pulls and
//    processes them until the engine reports that none are left, merging
//    affected entities exactly the way batches do. Drain normally runs once
//    ingestion has stopped, but a DrainScheduler can also run it on a cron
//    schedule while ingestion is in progress.
package erpdk

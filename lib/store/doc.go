// Package store defines the key-value layer every other part of the database
// writes through. It sits on top of a db.KVDB engine and hides the write
// index bookkeeping of the engine from its callers.
//
// Key Components:
//
//   - IStore Interface: Set, Delete, Get, Has and prefix Scan, plus Save and
//     Load of a complete snapshot. The record store keeps records, partition
//     catalogue and live bitmaps in it, the database keeps index
//     configuration records under config/index/.
//
//   - Error System: errors produced by a store are of type *Error and carry
//     a RetCode, so callers can tell an unsupported operation from an
//     internal failure.
//
//   - DBFactory: injects the engine, which keeps stores independent of the
//     engine implementation.
//
// The only implementation is the local store in the lstore package.
package store

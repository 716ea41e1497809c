// Package persistence manages the lifecycle of records between client code
// and a transactional storage backend.
//
// A Factory is created once per process over a Backend and hands out
// Sessions. A Session keeps an identity map of the records it tracks and a
// snapshot of each record's columns taken when it became tracked. Client
// code mutates tracked records freely; at Commit the session compares every
// record with its snapshot and issues one update per changed record,
// covering only the changed columns, alongside queued inserts and deletes.
//
// Record states:
//
//	New --Insert+Commit--> Managed --Remove--> Removed --Commit--> Detached
//
// Commit is all-or-nothing: when any statement, listener or the storage
// commit fails, the storage transaction is rolled back and every record
// keeps the state and identity it had before the call.
//
// Lifecycle listeners registered on the Factory observe Loaded, BeforeInsert,
// AfterInsert, BeforeUpdate, AfterUpdate, BeforeRemove and AfterRemove
// transitions synchronously.
package persistence

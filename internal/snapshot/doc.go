// Package snapshot persists the access store's state.
//
// The whole state (users, schedules and settings) is one JSON document, so a
// save either lands completely or not at all. Two adapters implement
// access.Persistence:
//
//   - FileStore writes the document to a file with write-new-then-rename.
//   - SQLiteStore keeps the document in the single row of access_snapshot.
//
// Both return (nil, nil) from Load when nothing has been saved yet.
package snapshot

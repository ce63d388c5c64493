// Package library is the variant index: it maps a media identity to its
// metadata and the renditions cached on disk. The Library type owns the
// in-memory records and is the only writer; every mutation is flushed through
// a Persister (JSON file or SQLite) before the call returns, and a structurally
// invalid backing store is reset to an empty one instead of failing startup.
package library

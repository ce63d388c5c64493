// Package cache owns the variant files under StoragePath/<kind>/<mediaID>.<format>.
// Writes go through a temp file in the destination directory followed by a rename,
// so readers never observe a partially written variant. The package knows nothing
// about expiry or the record store; callers decide when a file should exist.
package cache

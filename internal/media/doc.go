// Package media holds the vocabulary shared by the index, the acquisition
// pipeline and the delivery endpoint: media kinds, container formats,
// quality tiers, the identity/variant records persisted in the library, and
// the helpers that derive a source tag and dedup key from a canonical URL.
package media

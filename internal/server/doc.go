// Package server hosts the Fiber HTTP service, the request middleware chain and
// the runtime wiring that turns config.toml into a backend chain, a variant
// library and the acquisition/delivery handlers mounted by the routes package.
package server

// Package rockslide holds the vocabulary shared by the registry's storage
// and protocol layers: image locations, blob metadata and the typed errors
// that the HTTP handlers translate into distribution error codes.
package rockslide

// Package structs is a reflective, pointer-indexable description of Go
// values that supports deep init, copy, equality, ascification,
// parsing, and binary round-trip. Every higher PDEL component —
// app-config, the XML/XML-RPC codecs, the HTTP servlets — is driven
// by a structs.Type describing its data.
//
// A Type is a schema object, not the data itself: the values it
// describes are ordinary, addressable reflect.Value instances reached
// through reflection, so the schema/value split never resorts to
// unsafe casts.
package structs

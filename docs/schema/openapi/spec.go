// Package openapi embeds the LabOS HTTP API document for runtime
// distribution.
package openapi

import _ "embed"

// APISpec contains the OpenAPI 3.0 description of the LabOS HTTP API.
//
//go:embed labos-api.json
var APISpec []byte

// Spec returns a defensive copy of the embedded OpenAPI JSON.
func Spec() []byte {
	return append([]byte(nil), APISpec...)
}

package auth

import "encoding/base64"

// BasicAuthHeader renders the Authorization header value for HTTP basic
// auth: "Basic base64(user:pass)" (§4 header injection contract).
func BasicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// APIKeyHeader is the identity function for the API-key injection case:
// the key goes verbatim into whatever header name the caller configured
// (e.g. "X-Api-Key"), with no derived encoding.
func APIKeyHeader(key string) string {
	return key
}

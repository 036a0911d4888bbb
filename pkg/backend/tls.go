package backend

import (
	"crypto/tls"
	"net/http"
)

// InsecureTransport returns a clone of http.DefaultTransport that skips server
// certificate verification. Migrations routinely cross environments that use
// self-signed or mismatched certificates, so every backend client is built on it.
func InsecureTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec
	}
	return transport
}

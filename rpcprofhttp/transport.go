package rpcprofhttp

import (
	"net/http"

	"github.com/peterbourgon/rpcprof"
)

// Transport is an http.RoundTripper which reports every outbound request as an
// RPC to the recorder in the request context, if one exists. The request
// pointer is used as the correlation handle, and the call finishes when the
// base transport returns, whether it succeeds or fails.
type Transport struct {
	// Base is the transport which actually performs requests. By default,
	// http.DefaultTransport.
	Base http.RoundTripper

	// Service names the service of a request. By default, the URL host.
	Service func(*http.Request) string

	// Method names the method of a request. By default, the HTTP method and the
	// URL path, e.g. "GET /users".
	Method func(*http.Request) string
}

var _ http.RoundTripper = (*Transport)(nil)

// NewClient returns an HTTP client which uses a Transport wrapping the given
// base transport.
func NewClient(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Base: base}}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		o       = rpcprof.Get(req.Context())
		service = t.service(req)
		method  = t.method(req)
	)

	o.RecordStart(service, method, req)
	defer o.RecordFinish(service, method, req)

	return t.base().RoundTrip(req)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) service(req *http.Request) string {
	if t.Service != nil {
		return t.Service(req)
	}
	return req.URL.Host
}

func (t *Transport) method(req *http.Request) string {
	if t.Method != nil {
		return t.Method(req)
	}
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	return req.Method + " " + path
}

// internal/testutils/transport_test_helper.go
package testutils

import (
	"context"
	"testing"

	"github.com/blockadesystems/certforge/internal/acme"
)

// Exchange is one scripted transport round trip.
type Exchange struct {
	Method   string         // expected method, "POST" or "GET"
	URI      string         // expected URI, matched exactly when non-empty
	Response *acme.Response // response to hand back
	Err      error          // returned instead of the response when set
}

// RecordedRequest is one request the scripted transport saw.
type RecordedRequest struct {
	Method string
	URI    string
	Body   []byte
}

// ScriptedTransport replays a fixed sequence of exchanges and records every
// request it sees, failing the test on any deviation from the script. It
// lets protocol tests drive the client without a listening CA.
type ScriptedTransport struct {
	t         *testing.T
	exchanges []Exchange
	next      int

	Requests []RecordedRequest
}

// Ensure ScriptedTransport implements acme.Transport (compile-time check).
var _ acme.Transport = (*ScriptedTransport)(nil)

// NewScriptedTransport builds a transport that expects exactly the given
// exchanges in order.
func NewScriptedTransport(t *testing.T, exchanges ...Exchange) *ScriptedTransport {
	return &ScriptedTransport{t: t, exchanges: exchanges}
}

func (s *ScriptedTransport) Post(ctx context.Context, uri string, body []byte) (*acme.Response, error) {
	return s.exchange("POST", uri, body)
}

func (s *ScriptedTransport) Get(ctx context.Context, uri string) (*acme.Response, error) {
	return s.exchange("GET", uri, nil)
}

func (s *ScriptedTransport) exchange(method, uri string, body []byte) (*acme.Response, error) {
	s.t.Helper()

	if s.next >= len(s.exchanges) {
		s.t.Fatalf("unexpected %s %s: script already finished after %d exchanges", method, uri, len(s.exchanges))
	}
	ex := s.exchanges[s.next]
	step := s.next
	s.next++

	s.Requests = append(s.Requests, RecordedRequest{Method: method, URI: uri, Body: body})

	if ex.Method != "" && ex.Method != method {
		s.t.Fatalf("exchange %d: got %s %s, want %s %s", step, method, uri, ex.Method, ex.URI)
	}
	if ex.URI != "" && ex.URI != uri {
		s.t.Fatalf("exchange %d: got %s %s, want URI %s", step, method, uri, ex.URI)
	}

	if ex.Err != nil {
		return nil, ex.Err
	}
	if ex.Response == nil {
		s.t.Fatalf("exchange %d: script entry has neither response nor error", step)
	}
	return ex.Response, nil
}

// Done asserts the whole script was consumed.
func (s *ScriptedTransport) Done() {
	s.t.Helper()
	if s.next != len(s.exchanges) {
		s.t.Errorf("script not fully consumed: %d of %d exchanges used", s.next, len(s.exchanges))
	}
}

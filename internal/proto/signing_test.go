package proto

import (
	"bytes"
	"testing"
)

func TestDigestLength(t *testing.T) {
	if got := len(Digest([]byte("payload"))); got != 32 {
		t.Fatalf("digest length %d", got)
	}
	if bytes.Equal(Digest([]byte("a")), Digest([]byte("b"))) {
		t.Fatalf("distinct inputs collided")
	}
}

func TestAuthChallengeBytesBindIdentities(t *testing.T) {
	base := AuthChallengeBytes("ch", "0xAAAA", "0xBBBB")
	if bytes.Equal(base, AuthChallengeBytes("ch", "0xAAAA", "0xCCCC")) {
		t.Fatalf("session key not bound")
	}
	if bytes.Equal(base, AuthChallengeBytes("ch2", "0xAAAA", "0xBBBB")) {
		t.Fatalf("challenge not bound")
	}
	// Address case never changes the signed bytes.
	if !bytes.Equal(base, AuthChallengeBytes("ch", "0xaaaa", "0xbbbb")) {
		t.Fatalf("address case changed signed bytes")
	}
}

func TestCreateRequestBytesCanonical(t *testing.T) {
	req := CreateRequest{
		Protocol:     ProtocolTag,
		Participants: []string{"0xAAAA", "0xBBBB"},
		Weights:      []uint64{50, 50},
		Quorum:       100,
		Nonce:        "n1",
		Version:      1,
	}
	a, err := CreateRequestBytes(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	lower := req
	lower.Participants = []string{"0xaaaa", "0xbbbb"}
	b, err := CreateRequestBytes(lower)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("participant case changed signed bytes")
	}

	swapped := req
	swapped.Participants = []string{"0xBBBB", "0xAAAA"}
	c, err := CreateRequestBytes(swapped)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Fatalf("participant order not bound")
	}
}

func TestCreateRequestBytesValidation(t *testing.T) {
	valid := CreateRequest{
		Protocol:     ProtocolTag,
		Participants: []string{"0xAAAA"},
		Weights:      []uint64{100},
		Quorum:       100,
		Nonce:        "n1",
		Version:      1,
	}
	for name, mutate := range map[string]func(*CreateRequest){
		"missing protocol":     func(r *CreateRequest) { r.Protocol = "" },
		"missing participants": func(r *CreateRequest) { r.Participants = nil },
		"weights mismatch":     func(r *CreateRequest) { r.Weights = []uint64{1, 2} },
		"missing nonce":        func(r *CreateRequest) { r.Nonce = "" },
	} {
		r := valid
		mutate(&r)
		if _, err := CreateRequestBytes(r); err == nil {
			t.Fatalf("%s accepted", name)
		}
	}
}

func TestTrafficBytesBindMethodAndID(t *testing.T) {
	base := TrafficBytes("message", 1, []byte(`{}`))
	if bytes.Equal(base, TrafficBytes("message", 2, []byte(`{}`))) {
		t.Fatalf("id not bound")
	}
	if bytes.Equal(base, TrafficBytes("submit_app_state", 1, []byte(`{}`))) {
		t.Fatalf("method not bound")
	}
}

func TestSigningDomainsDisjoint(t *testing.T) {
	// The same raw string must never produce the same signable bytes in two
	// contexts.
	auth := AuthChallengeBytes("x", "0xAAAA", "0xBBBB")
	traffic := TrafficBytes("x", 0, nil)
	if bytes.HasPrefix(auth, traffic[:len(trafficDomain)]) {
		t.Fatalf("auth bytes share the traffic domain prefix")
	}
}

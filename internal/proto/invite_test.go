package proto

import (
	"errors"
	"testing"
)

const (
	inviteCreator = "0x1111111111111111111111111111111111111111"
	inviteJoiner  = "0x2222222222222222222222222222222222222222"
)

func validTestInvite() Invite {
	return Invite{
		Creator: inviteCreator,
		Joiner:  inviteJoiner,
		Request: CreateRequest{
			Protocol:     ProtocolTag,
			Participants: []string{inviteCreator, inviteJoiner},
			Weights:      []uint64{50, 50},
			Quorum:       100,
			Nonce:        "n1",
			Version:      1,
		},
		Sigs:  []string{"aabb"},
		Nonce: "n1",
	}
}

func TestInviteRoundTrip(t *testing.T) {
	in := validTestInvite()
	code, err := EncodeInvite(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeInvite(code)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Creator != in.Creator || out.Joiner != in.Joiner || out.Nonce != in.Nonce {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if len(out.Sigs) != 1 || out.Sigs[0] != "aabb" {
		t.Fatalf("sigs mismatch: %v", out.Sigs)
	}
	if out.Request.Nonce != in.Request.Nonce || out.Request.Quorum != 100 {
		t.Fatalf("request mismatch: %+v", out.Request)
	}

	// Surrounding whitespace from copy-paste is tolerated.
	if _, err := DecodeInvite("  " + code + "\n"); err != nil {
		t.Fatalf("trimmed decode: %v", err)
	}
}

func TestDecodeInviteCorruption(t *testing.T) {
	code, err := EncodeInvite(validTestInvite())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for name, input := range map[string]string{
		"empty":      "",
		"whitespace": "   ",
		"not base64": "%%%%",
		"not json":   "aGVsbG8",
		"truncated":  code[:len(code)/2],
	} {
		if _, err := DecodeInvite(input); !errors.Is(err, ErrMalformedInvite) {
			t.Fatalf("%s: expected ErrMalformedInvite, got %v", name, err)
		}
	}
}

func TestInviteValidation(t *testing.T) {
	for name, mutate := range map[string]func(*Invite){
		"bad creator":           func(i *Invite) { i.Creator = "nope" },
		"bad joiner":            func(i *Invite) { i.Joiner = "nope" },
		"creator equals joiner": func(i *Invite) { i.Joiner = i.Creator },
		"wrong protocol":        func(i *Invite) { i.Request.Protocol = "other-protocol" },
		"participant mismatch":  func(i *Invite) { i.Request.Participants = []string{inviteJoiner, inviteCreator} },
		"too many participants": func(i *Invite) { i.Request.Participants = append(i.Request.Participants, inviteCreator) },
		"no signatures":         func(i *Invite) { i.Sigs = nil },
		"no nonce":              func(i *Invite) { i.Nonce = "" },
	} {
		inv := validTestInvite()
		mutate(&inv)
		if _, err := EncodeInvite(inv); !errors.Is(err, ErrMalformedInvite) {
			t.Fatalf("%s: encode expected ErrMalformedInvite, got %v", name, err)
		}
	}
}

func TestInviteParticipantCaseInsensitive(t *testing.T) {
	inv := validTestInvite()
	inv.Request.Participants = []string{
		"0X1111111111111111111111111111111111111111",
		"0X2222222222222222222222222222222222222222",
	}
	if _, err := EncodeInvite(inv); err != nil {
		t.Fatalf("case variation rejected: %v", err)
	}
}

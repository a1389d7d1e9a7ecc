package proto

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Domain labels keep the three signature contexts from ever colliding: a
// signed challenge can not be replayed as a create request or as routine
// traffic.
const (
	authDomain    = "cofund:auth:v1"
	createDomain  = "cofund:create:v1"
	trafficDomain = "cofund:msg:v1"
)

// Digest is the protocol hash over canonical bytes; signatures are always
// over a digest, never raw bytes.
func Digest(b []byte) []byte {
	sum := sha3.Sum256(b)
	return sum[:]
}

// AuthChallengeBytes binds the coordinator challenge to both identities, so
// the wallet signature authorizes exactly this session key and nothing else.
func AuthChallengeBytes(challenge, walletAddr, sessionKeyAddr string) []byte {
	buf := make([]byte, 0, len(authDomain)+len(challenge)+len(walletAddr)+len(sessionKeyAddr)+6)
	buf = append(buf, authDomain...)
	buf = appendField(buf, strings.ToLower(walletAddr))
	buf = appendField(buf, strings.ToLower(sessionKeyAddr))
	buf = appendField(buf, challenge)
	return buf
}

// CreateRequestBytes is the canonical encoding both participants sign. Field
// order is fixed; participants are encoded in definition order.
func CreateRequestBytes(r CreateRequest) ([]byte, error) {
	if r.Protocol == "" {
		return nil, fmt.Errorf("missing protocol tag")
	}
	if len(r.Participants) == 0 {
		return nil, fmt.Errorf("missing participants")
	}
	if len(r.Weights) != len(r.Participants) {
		return nil, fmt.Errorf("weights/participants length mismatch")
	}
	if r.Nonce == "" {
		return nil, fmt.Errorf("missing nonce")
	}
	buf := make([]byte, 0, 256)
	buf = append(buf, createDomain...)
	buf = appendField(buf, r.Protocol)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(len(r.Participants)))
	buf = append(buf, tmp[:]...)
	for i, p := range r.Participants {
		buf = appendField(buf, strings.ToLower(p))
		binary.BigEndian.PutUint64(tmp[:], r.Weights[i])
		buf = append(buf, tmp[:]...)
	}
	binary.BigEndian.PutUint64(tmp[:], r.Quorum)
	buf = append(buf, tmp[:]...)
	buf = appendField(buf, r.Nonce)
	binary.BigEndian.PutUint64(tmp[:], r.Version)
	buf = append(buf, tmp[:]...)
	return buf, nil
}

// TrafficBytes covers a routine outbound envelope with the session key.
func TrafficBytes(method string, id uint64, params []byte) []byte {
	buf := make([]byte, 0, len(trafficDomain)+len(method)+len(params)+10)
	buf = append(buf, trafficDomain...)
	buf = appendField(buf, method)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], id)
	buf = append(buf, tmp[:]...)
	buf = append(buf, params...)
	return buf
}

func appendField(buf []byte, s string) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(len(s)))
	buf = append(buf, tmp[:]...)
	return append(buf, s...)
}

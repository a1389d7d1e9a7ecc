package proto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedInvite covers every way an invite code can fail to decode;
// callers only ever need the one sentinel.
var ErrMalformedInvite = errors.New("malformed invite")

// Invite is the portable, partially-signed session bootstrap. The wrapper
// itself carries no signature; integrity comes from the signatures over the
// embedded request, and single-redemption is enforced by the coordinator,
// not locally.
type Invite struct {
	Creator string        `json:"creator"`
	Joiner  string        `json:"joiner"`
	Request CreateRequest `json:"request"`
	Sigs    []string      `json:"sigs"`
	Nonce   string        `json:"nonce"`
}

// EncodeInvite produces the opaque copy-pasteable code: base64url over JSON.
func EncodeInvite(inv Invite) (string, error) {
	if err := validateInvite(inv); err != nil {
		return "", err
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeInvite is the exact inverse of EncodeInvite. Any decode or
// validation failure comes back as ErrMalformedInvite.
func DecodeInvite(code string) (Invite, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Invite{}, fmt.Errorf("%w: empty code", ErrMalformedInvite)
	}
	data, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return Invite{}, fmt.Errorf("%w: %v", ErrMalformedInvite, err)
	}
	var inv Invite
	if err := json.Unmarshal(data, &inv); err != nil {
		return Invite{}, fmt.Errorf("%w: %v", ErrMalformedInvite, err)
	}
	if err := validateInvite(inv); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

func validateInvite(inv Invite) error {
	if !common.IsHexAddress(inv.Creator) {
		return fmt.Errorf("%w: bad creator address", ErrMalformedInvite)
	}
	if !common.IsHexAddress(inv.Joiner) {
		return fmt.Errorf("%w: bad joiner address", ErrMalformedInvite)
	}
	if strings.EqualFold(inv.Creator, inv.Joiner) {
		return fmt.Errorf("%w: creator and joiner identical", ErrMalformedInvite)
	}
	if inv.Request.Protocol != ProtocolTag {
		return fmt.Errorf("%w: unexpected protocol tag %q", ErrMalformedInvite, inv.Request.Protocol)
	}
	if len(inv.Request.Participants) != 2 ||
		!strings.EqualFold(inv.Request.Participants[0], inv.Creator) ||
		!strings.EqualFold(inv.Request.Participants[1], inv.Joiner) {
		return fmt.Errorf("%w: participants do not match creator/joiner", ErrMalformedInvite)
	}
	if len(inv.Sigs) == 0 {
		return fmt.Errorf("%w: missing creator signature", ErrMalformedInvite)
	}
	if inv.Nonce == "" {
		return fmt.Errorf("%w: missing nonce", ErrMalformedInvite)
	}
	return nil
}

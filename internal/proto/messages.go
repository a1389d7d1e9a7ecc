package proto

import (
	"encoding/json"
	"fmt"
)

const (
	// ProtocolTag identifies basket sessions among everything else the
	// coordinator hosts.
	ProtocolTag = "cofund-basket-v1"

	MethodAuthRequest      = "auth_request"
	MethodAuthChallenge    = "auth_challenge"
	MethodAuthVerify       = "auth_verify"
	MethodCreateSession    = "create_app_session"
	MethodGetSessions      = "get_app_sessions"
	MethodGetDefinition    = "get_app_definition"
	MethodSubmitState      = "submit_app_state"
	MethodSessionUpdate    = "app_session_update"
	MethodMessage          = "message"
	MethodError            = "error"

	MaxEnvelopeSize = 1 << 20
)

// Envelope is the single frame shape in both directions. Requests carry a
// client-assigned id; the coordinator echoes it on the direct response. Push
// messages from the coordinator use id 0.
type Envelope struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Sender string          `json:"sender,omitempty"`
	Sig    string          `json:"sig,omitempty"`
}

func EncodeEnvelope(env *Envelope) ([]byte, error) {
	if env == nil || env.Method == "" {
		return nil, fmt.Errorf("missing method")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxEnvelopeSize {
		return nil, fmt.Errorf("envelope too large")
	}
	return data, nil
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 || len(data) > MaxEnvelopeSize {
		return nil, fmt.Errorf("invalid envelope size")
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Method == "" {
		return nil, fmt.Errorf("missing method")
	}
	return &env, nil
}

// AuthRequestParams opens the challenge round-trip. Address is the session
// key address; the wallet only comes in at verify time.
type AuthRequestParams struct {
	Address    string   `json:"address"`
	Scope      string   `json:"scope"`
	Expire     int64    `json:"expire"`
	Allowances []string `json:"allowances"`
}

type AuthVerifyParams struct {
	Challenge string `json:"challenge"`
	Wallet    string `json:"wallet"`
	Signature string `json:"signature"`
}

// CreateRequest is the unsigned session definition both parties sign. It is
// immutable once encoded into an invite; the joiner appends a signature,
// never edits fields.
type CreateRequest struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []uint64 `json:"weights"`
	Quorum       uint64   `json:"quorum"`
	Nonce        string   `json:"nonce"`
	Version      uint64   `json:"version"`
}

type CreateSessionParams struct {
	Definition CreateRequest   `json:"definition"`
	Sigs       []string        `json:"sigs"`
	State      json.RawMessage `json:"state,omitempty"`
}

type GetSessionsParams struct {
	Protocol    string `json:"protocol,omitempty"`
	Participant string `json:"participant,omitempty"`
}

type SubmitStateParams struct {
	AppSessionID string          `json:"app_session_id"`
	Version      uint64          `json:"version"`
	State        json.RawMessage `json:"state"`
}

type SendMessageParams struct {
	AppSessionID string          `json:"app_session_id"`
	MessageID    string          `json:"message_id"`
	Payload      json.RawMessage `json:"payload"`
}

type SessionInfo struct {
	AppSessionID string   `json:"app_session_id"`
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Status       string   `json:"status"`
	Version      uint64   `json:"version"`
	Nonce        string   `json:"nonce,omitempty"`
}

// Message is the closed set of decoded coordinator payloads. Every incoming
// envelope maps to exactly one variant; unknown methods are a decode error,
// not a silent drop.
type Message interface {
	isMessage()
}

type AuthChallenge struct {
	Challenge string `json:"challenge_message"`
}

type AuthVerified struct {
	Success bool   `json:"success"`
	Address string `json:"address,omitempty"`
}

type SessionCreated struct {
	AppSessionID string `json:"app_session_id"`
	Version      uint64 `json:"version"`
	Status       string `json:"status"`
}

type SessionsListed struct {
	Sessions []SessionInfo `json:"app_sessions"`
}

type SessionDefinition struct {
	Definition CreateRequest `json:"definition"`
	Sigs       []string      `json:"sigs"`
}

type StateUpdated struct {
	AppSessionID string          `json:"app_session_id"`
	Version      uint64          `json:"version"`
	State        json.RawMessage `json:"state"`
}

type AppMessage struct {
	AppSessionID string          `json:"app_session_id"`
	MessageID    string          `json:"message_id"`
	Sender       string          `json:"sender"`
	Payload      json.RawMessage `json:"payload"`
}

type ProtocolError struct {
	Err string `json:"error"`
}

func (*AuthChallenge) isMessage()     {}
func (*AuthVerified) isMessage()      {}
func (*SessionCreated) isMessage()    {}
func (*SessionsListed) isMessage()    {}
func (*SessionDefinition) isMessage() {}
func (*StateUpdated) isMessage()      {}
func (*AppMessage) isMessage()        {}
func (*ProtocolError) isMessage()     {}

func (e *ProtocolError) Error() string {
	return e.Err
}

// DecodeMessage maps an envelope onto its typed variant.
func DecodeMessage(env *Envelope) (Message, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	var msg Message
	switch env.Method {
	case MethodAuthChallenge:
		msg = &AuthChallenge{}
	case MethodAuthVerify:
		msg = &AuthVerified{}
	case MethodCreateSession:
		msg = &SessionCreated{}
	case MethodGetSessions:
		msg = &SessionsListed{}
	case MethodGetDefinition:
		msg = &SessionDefinition{}
	case MethodSubmitState, MethodSessionUpdate:
		msg = &StateUpdated{}
	case MethodMessage:
		msg = &AppMessage{}
	case MethodError:
		msg = &ProtocolError{}
	default:
		return nil, fmt.Errorf("unknown method: %s", env.Method)
	}
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, msg); err != nil {
			return nil, fmt.Errorf("bad %s params: %w", env.Method, err)
		}
	}
	if am, ok := msg.(*AppMessage); ok && am.Sender == "" {
		am.Sender = env.Sender
	}
	return msg, nil
}

package ledgernet

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformedEnvelope = errors.New("ledgernet: malformed rpc envelope")
	ErrInvalidParams     = errors.New("ledgernet: invalid rpc params")
	ErrInvalidResult     = errors.New("ledgernet: invalid rpc result")
)

// RPC methods accepted by the ledger network.
const (
	Method_AuthVerify       = "auth_verify"
	Method_CreateAppSession = "create_app_session"
	Method_SubmitAppState   = "submit_app_state"
	Method_CloseAppSession  = "close_app_session"
	Method_Error            = "error"
)

// rpcBody is the [id, method, payload, timestamp] array every envelope wraps.
// Signatures are computed over this exact array, so each field must survive a
// marshal/unmarshal round trip byte-identically.
type rpcBody struct {
	RequestID uint64
	Method    string
	Payload   json.RawMessage
	Timestamp uint64
}

func (b rpcBody) MarshalJSON() ([]byte, error) {
	payload := b.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	return json.Marshal([]interface{}{b.RequestID, b.Method, payload, b.Timestamp})
}

func (b *rpcBody) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 4 {
		return ErrMalformedEnvelope
	}
	if err := json.Unmarshal(parts[0], &b.RequestID); err != nil {
		return ErrMalformedEnvelope
	}
	if err := json.Unmarshal(parts[1], &b.Method); err != nil {
		return ErrMalformedEnvelope
	}
	b.Payload = parts[2]
	if err := json.Unmarshal(parts[3], &b.Timestamp); err != nil {
		return ErrMalformedEnvelope
	}
	return nil
}

// RequestEnvelope is one outbound call. Sig carries the participant
// signatures for co-signed methods, in sorted-address order. SID carries the
// bearer session token at the envelope level; it is never part of the signed
// body.
type RequestEnvelope struct {
	Req rpcBody  `json:"req"`
	Sig []string `json:"sig,omitempty"`
	SID string   `json:"sid,omitempty"`
}

// ResponseEnvelope is one inbound reply or push notification. Push
// notifications carry a request id of zero and are dispatched by method.
type ResponseEnvelope struct {
	Res rpcBody  `json:"res"`
	Sig []string `json:"sig,omitempty"`
}

func (e *ResponseEnvelope) RequestID() uint64 {
	return e.Res.RequestID
}

func (e *ResponseEnvelope) Method() string {
	return e.Res.Method
}

// decodeResponses accepts both a single response envelope and a batch array
// of envelopes, per the ledger network's framing.
func decodeResponses(data []byte) ([]*ResponseEnvelope, error) {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrMalformedEnvelope
	}

	if trimmed[0] == '[' {
		var batch []*ResponseEnvelope
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}

	var single ResponseEnvelope
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []*ResponseEnvelope{&single}, nil
}

func trimLeadingSpace(data []byte) []byte {
	for i, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return data[i:]
		}
	}
	return nil
}

// Allocation is one participant's share of the session funds. Allocation
// arrays always follow sorted participant-address order.
type Allocation struct {
	Participant string          `json:"participant"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
}

// AppDefinition fixes the participant set and signing quorum of a session.
// Participants are listed in sorted-address order.
type AppDefinition struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []int64  `json:"weights"`
	Quorum       int64    `json:"quorum"`
	Nonce        uint64   `json:"nonce"`
}

type CreateAppSessionParams struct {
	Definition  AppDefinition `json:"definition"`
	Allocations []Allocation  `json:"allocations"`
}

func (p *CreateAppSessionParams) Validate() error {
	if len(p.Definition.Participants) == 0 {
		return ErrInvalidParams
	}
	if len(p.Allocations) != len(p.Definition.Participants) {
		return ErrInvalidParams
	}
	return nil
}

type CreateAppSessionResult struct {
	AppSessionID string `json:"app_session_id"`
	Version      uint64 `json:"version"`
	Status       string `json:"status"`
}

func (r *CreateAppSessionResult) Validate() error {
	if r.AppSessionID == "" {
		return ErrInvalidResult
	}
	return nil
}

type SubmitAppStateParams struct {
	AppSessionID string       `json:"app_session_id"`
	Allocations  []Allocation `json:"allocations"`
}

func (p *SubmitAppStateParams) Validate() error {
	if p.AppSessionID == "" || len(p.Allocations) == 0 {
		return ErrInvalidParams
	}
	return nil
}

type SubmitAppStateResult struct {
	AppSessionID string `json:"app_session_id"`
	Version      uint64 `json:"version"`
}

func (r *SubmitAppStateResult) Validate() error {
	if r.AppSessionID == "" || r.Version == 0 {
		return ErrInvalidResult
	}
	return nil
}

type CloseAppSessionParams struct {
	AppSessionID string       `json:"app_session_id"`
	Allocations  []Allocation `json:"allocations"`
}

func (p *CloseAppSessionParams) Validate() error {
	if p.AppSessionID == "" {
		return ErrInvalidParams
	}
	return nil
}

type CloseAppSessionResult struct {
	AppSessionID string `json:"app_session_id"`
	Version      uint64 `json:"version"`
	Status       string `json:"status"`
}

func (r *CloseAppSessionResult) Validate() error {
	if r.AppSessionID == "" {
		return ErrInvalidResult
	}
	return nil
}

type AuthVerifyParams struct {
	Token string `json:"jwt"`
}

type AuthVerifyResult struct {
	Success bool   `json:"success"`
	Address string `json:"address,omitempty"`
}

// ErrorResult is the payload of a method="error" response.
type ErrorResult struct {
	Error string `json:"error"`
}

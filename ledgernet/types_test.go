package ledgernet

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRPCBody_MarshalArrayForm(t *testing.T) {
	body := rpcBody{
		RequestID: 42,
		Method:    Method_CreateAppSession,
		Payload:   json.RawMessage(`{"definition":null}`),
		Timestamp: 1700000000000,
	}

	data, err := json.Marshal(&body)
	assert.Nil(t, err)
	assert.JSONEq(t, `[42,"create_app_session",{"definition":null},1700000000000]`, string(data))
}

func TestRPCBody_MarshalNilPayload(t *testing.T) {
	body := rpcBody{
		RequestID: 1,
		Method:    Method_AuthVerify,
		Timestamp: 5,
	}

	data, err := json.Marshal(&body)
	assert.Nil(t, err)
	assert.JSONEq(t, `[1,"auth_verify",{},5]`, string(data))
}

func TestRPCBody_UnmarshalArrayForm(t *testing.T) {
	var body rpcBody
	err := json.Unmarshal([]byte(`[7,"submit_app_state",{"app_session_id":"s1"},1700000000001]`), &body)
	assert.Nil(t, err)
	assert.Equal(t, uint64(7), body.RequestID)
	assert.Equal(t, Method_SubmitAppState, body.Method)
	assert.Equal(t, uint64(1700000000001), body.Timestamp)
	assert.JSONEq(t, `{"app_session_id":"s1"}`, string(body.Payload))
}

func TestRPCBody_UnmarshalRejectsWrongArity(t *testing.T) {
	var body rpcBody
	assert.NotNil(t, json.Unmarshal([]byte(`[7,"submit_app_state",{}]`), &body))
	assert.NotNil(t, json.Unmarshal([]byte(`[7,"submit_app_state",{},1,2]`), &body))
	assert.NotNil(t, json.Unmarshal([]byte(`{"id":7}`), &body))
}

func TestDecodeResponses_Single(t *testing.T) {
	envelopes, err := decodeResponses([]byte(`{"res":[3,"create_app_session",{"app_session_id":"s1","version":1,"status":"open"},9],"sig":["0xaa"]}`))
	assert.Nil(t, err)
	assert.Equal(t, 1, len(envelopes))
	assert.Equal(t, uint64(3), envelopes[0].RequestID())
	assert.Equal(t, Method_CreateAppSession, envelopes[0].Method())
}

func TestDecodeResponses_Batch(t *testing.T) {
	envelopes, err := decodeResponses([]byte(` [
		{"res":[1,"submit_app_state",{},9]},
		{"res":[2,"close_app_session",{},9]}
	]`))
	assert.Nil(t, err)
	assert.Equal(t, 2, len(envelopes))
	assert.Equal(t, uint64(1), envelopes[0].RequestID())
	assert.Equal(t, uint64(2), envelopes[1].RequestID())
}

func TestDecodeResponses_Malformed(t *testing.T) {
	_, err := decodeResponses([]byte(`not json`))
	assert.NotNil(t, err)

	_, err = decodeResponses([]byte(`{"res":[1,"x"]}`))
	assert.NotNil(t, err)
}

func TestCreateAppSessionParams_Validate(t *testing.T) {
	params := &CreateAppSessionParams{
		Definition: AppDefinition{
			Protocol:     "NitroRPC/0.2",
			Participants: []string{"0xaa", "0xbb"},
			Weights:      []int64{50, 50},
			Quorum:       100,
			Nonce:        1,
		},
		Allocations: []Allocation{
			{Participant: "0xaa", Asset: "usdc", Amount: decimal.NewFromInt(10)},
			{Participant: "0xbb", Asset: "usdc", Amount: decimal.NewFromInt(10)},
		},
	}
	assert.Nil(t, params.Validate())

	params.Definition.Participants = nil
	assert.NotNil(t, params.Validate())
}

func TestSubmitAppStateParams_Validate(t *testing.T) {
	params := &SubmitAppStateParams{
		AppSessionID: "s1",
		Allocations: []Allocation{
			{Participant: "0xaa", Asset: "usdc", Amount: decimal.NewFromInt(12)},
			{Participant: "0xbb", Asset: "usdc", Amount: decimal.NewFromInt(8)},
		},
	}
	assert.Nil(t, params.Validate())

	params.AppSessionID = ""
	assert.NotNil(t, params.Validate())
}

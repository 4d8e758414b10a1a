package ledgernet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoordinator_CollectAllSignatures(t *testing.T) {
	sc := NewCoordinator(nil)

	announced := make(chan *SignRequest, 1)
	sc.OnSignRequest(func(req *SignRequest) {
		announced <- req
	})

	req := &SignRequest{
		RequestID: 100,
		Method:    Method_SubmitAppState,
		Params:    json.RawMessage(`{"app_session_id":"s1"}`),
		Timestamp: 1700000000000,
		Addresses: []string{"0xbb", "0xaa"},
	}

	type result struct {
		signed *SignedRequest
		err    error
	}
	done := make(chan result, 1)
	go func() {
		signed, err := sc.Collect(req)
		done <- result{signed, err}
	}()

	<-announced

	// submit out of address order
	assert.Nil(t, sc.SubmitSignature(Method_SubmitAppState, 100, "0xbb", "sig-bb"))
	assert.Nil(t, sc.SubmitSignature(Method_SubmitAppState, 100, "0xaa", "sig-aa"))

	r := <-done
	assert.Nil(t, r.err)
	assert.Equal(t, uint64(100), r.signed.RequestID)
	assert.Equal(t, uint64(1700000000000), r.signed.Timestamp)

	// assembled in ascending address order regardless of arrival order
	assert.Equal(t, []string{"sig-aa", "sig-bb"}, r.signed.Signatures)
	assert.Equal(t, 0, sc.PendingCount())
}

func TestCoordinator_Timeout(t *testing.T) {
	options := NewCoordinatorOptions()
	options.Timeout = time.Second
	sc := NewCoordinator(options)

	req := &SignRequest{
		RequestID: 7,
		Method:    Method_CloseAppSession,
		Params:    json.RawMessage(`{}`),
		Timestamp: 1,
		Addresses: []string{"0xaa", "0xbb"},
	}

	done := make(chan error, 1)
	go func() {
		_, err := sc.Collect(req)
		done <- err
	}()

	// only one of two participants signs
	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, sc.SubmitSignature(Method_CloseAppSession, 7, "0xaa", "sig-aa"))

	select {
	case err := <-done:
		assert.Equal(t, ErrSignTimeout, err)
	case <-time.After(3 * time.Second):
		t.Fatal("collect did not resolve on timeout")
	}

	assert.Equal(t, 0, sc.PendingCount())

	// late signature is rejected, never assembled into a partial set
	err := sc.SubmitSignature(Method_CloseAppSession, 7, "0xbb", "sig-bb")
	assert.Equal(t, ErrUnknownSignRequest, err)
}

func TestCoordinator_RejectsUnknownSigner(t *testing.T) {
	sc := NewCoordinator(nil)

	req := &SignRequest{
		RequestID: 8,
		Method:    Method_SubmitAppState,
		Params:    json.RawMessage(`{}`),
		Timestamp: 1,
		Addresses: []string{"0xaa", "0xbb"},
	}

	done := make(chan struct{})
	go func() {
		sc.Collect(req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, ErrUnknownSigner, sc.SubmitSignature(Method_SubmitAppState, 8, "0xcc", "sig-cc"))

	assert.Nil(t, sc.SubmitSignature(Method_SubmitAppState, 8, "0xaa", "sig-aa"))
	assert.Nil(t, sc.SubmitSignature(Method_SubmitAppState, 8, "0xbb", "sig-bb"))
	<-done
}

func TestCoordinator_UnknownRequest(t *testing.T) {
	sc := NewCoordinator(nil)
	err := sc.SubmitSignature(Method_SubmitAppState, 999, "0xaa", "sig")
	assert.Equal(t, ErrUnknownSignRequest, err)
}

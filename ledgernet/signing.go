package ledgernet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/weedbox/syncsaga"
)

var (
	ErrSignTimeout        = errors.New("ledgernet: signature collection timed out")
	ErrUnknownSignRequest = errors.New("ledgernet: unknown sign request")
	ErrUnknownSigner      = errors.New("ledgernet: address is not a participant")
)

// SignRequest is the exact payload every participant must sign. RequestID and
// Timestamp are fixed when the request is created so all parties sign over
// identical bytes.
type SignRequest struct {
	RequestID uint64          `json:"request_id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Timestamp uint64          `json:"timestamp"`
	Addresses []string        `json:"addresses"`
}

type pendingSign struct {
	req        *SignRequest
	rg         *syncsaga.ReadyGroup
	addresses  []string
	signatures map[string]string
	done       chan struct{}
	signed     *SignedRequest
	err        error
	resolved   bool
}

type CoordinatorOptions struct {
	Timeout time.Duration
	Log     slog.Logger
}

func NewCoordinatorOptions() *CoordinatorOptions {
	return &CoordinatorOptions{
		Timeout: 10 * time.Second,
		Log:     slog.Disabled,
	}
}

// Coordinator collects one signature per participant for a co-signed ledger
// operation. Collect blocks until every signature arrives or the window
// expires; it never returns a partial signature set.
type Coordinator struct {
	mu       sync.Mutex
	requests map[string]*pendingSign
	options  *CoordinatorOptions

	onSignRequest func(*SignRequest)
}

func NewCoordinator(options *CoordinatorOptions) *Coordinator {
	if options == nil {
		options = NewCoordinatorOptions()
	}
	if options.Log == nil {
		options.Log = slog.Disabled
	}

	return &Coordinator{
		requests:      make(map[string]*pendingSign),
		options:       options,
		onSignRequest: func(r *SignRequest) {},
	}
}

// OnSignRequest registers the hook that forwards a new sign request to the
// participants, typically over the room's event stream.
func (sc *Coordinator) OnSignRequest(fn func(*SignRequest)) {
	sc.onSignRequest = fn
}

func signKey(method string, requestID uint64) string {
	return fmt.Sprintf("%s#%d", method, requestID)
}

// Collect announces the request to its participants and blocks until all of
// them have signed, assembling the signatures in ascending address order. On
// timeout the request is discarded and late signatures are rejected.
func (sc *Coordinator) Collect(req *SignRequest) (*SignedRequest, error) {
	addresses := make([]string, len(req.Addresses))
	copy(addresses, req.Addresses)
	sort.Strings(addresses)

	p := &pendingSign{
		req:        req,
		addresses:  addresses,
		signatures: make(map[string]string),
		done:       make(chan struct{}),
	}

	key := signKey(req.Method, req.RequestID)

	p.rg = syncsaga.NewReadyGroup(
		syncsaga.WithTimeout(int(sc.options.Timeout.Seconds()), func(rg *syncsaga.ReadyGroup) {
			sc.resolve(key, nil, ErrSignTimeout)
		}),
	)
	p.rg.OnCompleted(func(rg *syncsaga.ReadyGroup) {
		sc.complete(key)
	})

	p.rg.ResetParticipants()
	for idx := range addresses {
		p.rg.Add(int64(idx), false)
	}

	sc.mu.Lock()
	if _, exists := sc.requests[key]; exists {
		sc.mu.Unlock()
		return nil, fmt.Errorf("ledgernet: sign request %s already pending", key)
	}
	sc.requests[key] = p
	sc.mu.Unlock()

	p.rg.Start()
	sc.onSignRequest(req)

	<-p.done

	return p.signed, p.err
}

// SubmitSignature records one participant's signature for a pending request.
// Submissions after resolution, or from an address outside the participant
// set, are rejected.
func (sc *Coordinator) SubmitSignature(method string, requestID uint64, address string, signature string) error {
	key := signKey(method, requestID)

	sc.mu.Lock()
	p, exists := sc.requests[key]
	if !exists {
		sc.mu.Unlock()
		return ErrUnknownSignRequest
	}

	idx := sort.SearchStrings(p.addresses, address)
	if idx >= len(p.addresses) || p.addresses[idx] != address {
		sc.mu.Unlock()
		return ErrUnknownSigner
	}

	p.signatures[address] = signature
	sc.mu.Unlock()

	p.rg.Ready(int64(idx))
	return nil
}

func (sc *Coordinator) PendingCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return len(sc.requests)
}

func (sc *Coordinator) complete(key string) {
	sc.mu.Lock()
	p, exists := sc.requests[key]
	if !exists {
		sc.mu.Unlock()
		return
	}

	// signatures ship in ascending address order regardless of arrival order
	signatures := make([]string, 0, len(p.addresses))
	for _, addr := range p.addresses {
		signatures = append(signatures, p.signatures[addr])
	}
	sc.mu.Unlock()

	sc.resolve(key, &SignedRequest{
		RequestID:  p.req.RequestID,
		Method:     p.req.Method,
		Params:     p.req.Params,
		Timestamp:  p.req.Timestamp,
		Signatures: signatures,
	}, nil)
}

func (sc *Coordinator) resolve(key string, signed *SignedRequest, err error) {
	sc.mu.Lock()
	p, exists := sc.requests[key]
	if !exists || p.resolved {
		sc.mu.Unlock()
		return
	}
	p.resolved = true
	p.signed = signed
	p.err = err
	delete(sc.requests, key)
	sc.mu.Unlock()

	p.rg.Stop()
	close(p.done)
}

package slicearena

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/slicearena/slicearena/ledgernet"
	"github.com/thoas/go-funk"
)

const ledgerProtocol = "NitroRPC/0.2"

func (re *roomEngine) ledgerReady() bool {
	return re.ledger != nil && re.signer != nil
}

// openLedgerSession escrows both stakes in a co-signed session. Matches where
// either player has no wallet run without escrow; the local balances are
// still authoritative either way.
func (re *roomEngine) openLedgerSession() {
	if !re.ledgerReady() {
		return
	}

	re.lock.Lock()
	if re.room == nil {
		re.lock.Unlock()
		return
	}
	addresses := re.room.SortedAddresses()
	addrToPlayer := make(map[string]string)
	for _, p := range re.room.State.Players {
		if p.WalletAddress != "" {
			addrToPlayer[p.WalletAddress] = p.ID
		}
	}
	stake := re.options.StartingStake
	re.lock.Unlock()

	if len(addresses) != 2 {
		return
	}

	allocations := funk.Map(addresses, func(addr string) ledgernet.Allocation {
		return ledgernet.Allocation{
			Participant: addr,
			Asset:       re.options.Asset,
			Amount:      stake,
		}
	}).([]ledgernet.Allocation)

	params := &ledgernet.CreateAppSessionParams{
		Definition: ledgernet.AppDefinition{
			Protocol:     ledgerProtocol,
			Participants: addresses,
			Weights:      []int64{50, 50},
			Quorum:       100,
			Nonce:        uint64(time.Now().UnixMilli()),
		},
		Allocations: allocations,
	}
	if err := params.Validate(); err != nil {
		re.emitLedgerError(err)
		return
	}

	raw, err := re.collectAndCall(ledgernet.Method_CreateAppSession, params, addresses)
	if err != nil {
		re.emitLedgerError(err)
		return
	}

	var result ledgernet.CreateAppSessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		re.emitLedgerError(err)
		return
	}
	if err := result.Validate(); err != nil {
		re.emitLedgerError(err)
		return
	}

	re.lock.Lock()
	if re.room != nil {
		amounts := make(map[string]decimal.Decimal)
		for _, a := range allocations {
			amounts[a.Participant] = a.Amount
		}
		re.room.State.Ledger = &LedgerSessionState{
			SessionID:   result.AppSessionID,
			Version:     result.Version,
			Allocations: amounts,
			Addresses:   addrToPlayer,
		}
		re.room.RefreshUpdateAt()
	}
	re.lock.Unlock()

	re.log.Infof("ledger session %s opened for room", result.AppSessionID)
	re.emitRoomUpdated()
}

// mirrorRoundBalances pushes the post-round balances to the ledger session.
// Mirroring is best effort: a failure is reported, the match goes on.
func (re *roomEngine) mirrorRoundBalances() {
	if !re.ledgerReady() {
		return
	}

	sessionID, addresses, allocations, ok := re.sessionAllocations()
	if !ok {
		return
	}

	params := &ledgernet.SubmitAppStateParams{
		AppSessionID: sessionID,
		Allocations:  allocations,
	}
	if err := params.Validate(); err != nil {
		re.emitLedgerError(err)
		return
	}

	raw, err := re.collectAndCall(ledgernet.Method_SubmitAppState, params, addresses)
	if err != nil {
		re.emitLedgerError(err)
		return
	}

	var result ledgernet.SubmitAppStateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		re.emitLedgerError(err)
		return
	}
	if err := result.Validate(); err != nil {
		re.emitLedgerError(err)
		return
	}

	re.lock.Lock()
	if re.room != nil && re.room.State.Ledger != nil {
		session := re.room.State.Ledger
		session.Version = result.Version
		for _, a := range allocations {
			session.Allocations[a.Participant] = a.Amount
		}
		re.room.RefreshUpdateAt()
	}
	re.lock.Unlock()
}

// closeLedgerSession settles the final balances and closes the session.
func (re *roomEngine) closeLedgerSession() {
	if !re.ledgerReady() {
		return
	}

	sessionID, addresses, allocations, ok := re.sessionAllocations()
	if !ok {
		return
	}

	params := &ledgernet.CloseAppSessionParams{
		AppSessionID: sessionID,
		Allocations:  allocations,
	}
	if err := params.Validate(); err != nil {
		re.emitLedgerError(err)
		return
	}

	raw, err := re.collectAndCall(ledgernet.Method_CloseAppSession, params, addresses)
	if err != nil {
		re.emitLedgerError(err)
		return
	}

	var result ledgernet.CloseAppSessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		re.emitLedgerError(err)
		return
	}
	if err := result.Validate(); err != nil {
		re.emitLedgerError(err)
		return
	}

	re.lock.Lock()
	if re.room != nil && re.room.State.GameOver != nil {
		re.room.State.GameOver.LedgerSettled = true
		re.room.RefreshUpdateAt()
	}
	re.lock.Unlock()

	re.log.Infof("ledger session %s closed", sessionID)
	re.emitRoomUpdated()
}

// sessionAllocations snapshots the current balances as sorted-address ledger
// allocations.
func (re *roomEngine) sessionAllocations() (string, []string, []ledgernet.Allocation, bool) {
	re.lock.Lock()
	defer re.lock.Unlock()

	if re.room == nil || re.room.State.Ledger == nil {
		return "", nil, nil, false
	}
	session := re.room.State.Ledger

	addresses := make([]string, 0, len(session.Addresses))
	for addr := range session.Addresses {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	allocations := make([]ledgernet.Allocation, 0, len(addresses))
	for _, addr := range addresses {
		player := re.room.FindPlayer(session.Addresses[addr])
		if player == nil {
			return "", nil, nil, false
		}
		allocations = append(allocations, ledgernet.Allocation{
			Participant: addr,
			Asset:       re.options.Asset,
			Amount:      player.Cash,
		})
	}

	return session.SessionID, addresses, allocations, true
}

// collectAndCall runs the co-signing handshake and submits the result. The
// request id and timestamp are fixed before fan-out and reused verbatim on
// the wire.
func (re *roomEngine) collectAndCall(method string, params interface{}, addresses []string) (json.RawMessage, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	signed, err := re.signer.Collect(&ledgernet.SignRequest{
		RequestID: re.ledger.NextRequestID(),
		Method:    method,
		Params:    payload,
		Timestamp: uint64(time.Now().UnixMilli()),
		Addresses: addresses,
	})
	if err != nil {
		return nil, err
	}

	return re.ledger.CallSigned(context.Background(), signed)
}

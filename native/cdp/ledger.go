package cdp

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"usvprotocol/core/events"
	"usvprotocol/native/fixedpoint"
)

// Module accounts hold protocol owned balances. Their addresses are derived
// from a fixed label so every deployment agrees on them.
var (
	ActivePoolAccount    = moduleAccount("active-pool")
	GasPoolAccount       = moduleAccount("gas-pool")
	StabilityPoolAccount = moduleAccount("stability-pool")
	FeeSinkAccount       = moduleAccount("fee-sink")
	IssuanceVaultAccount = moduleAccount("issuance-vault")
)

func moduleAccount(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("usv/module/" + label)))
}

// Ledger moves token balances recorded in State. Every call fails closed on
// insufficient balance and leaves the state untouched in that case.
type Ledger struct {
	state State
	emit  events.Emitter
}

// NewLedger binds a ledger to the supplied state. Supply and transfer events
// go to the state when it also implements events.Emitter.
func NewLedger(state State) Ledger {
	emit, ok := state.(events.Emitter)
	if !ok {
		emit = events.NoopEmitter{}
	}
	return Ledger{state: state, emit: emit}
}

// BalanceOf returns the balance held by addr.
func (l Ledger) BalanceOf(asset Asset, addr common.Address) (uint64, error) {
	return l.state.GetBalance(asset, addr)
}

// Mint creates amount new tokens for to.
func (l Ledger) Mint(asset Asset, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	supply, err := l.state.GetSupply(asset)
	if err != nil {
		return err
	}
	newSupply, err := fixedpoint.Add(supply, amount)
	if err != nil {
		return fmt.Errorf("mint %s: %w", asset, err)
	}
	if err := l.credit(asset, to, amount); err != nil {
		return err
	}
	if err := l.state.PutSupply(asset, newSupply); err != nil {
		return err
	}
	l.emit.Emit(events.TokenSupply{Token: asset.String(), Total: newSupply, Delta: amount, Reason: events.SupplyReasonMint})
	return nil
}

// Burn destroys amount tokens held by from.
func (l Ledger) Burn(asset Asset, from common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	supply, err := l.state.GetSupply(asset)
	if err != nil {
		return err
	}
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	newSupply, err := fixedpoint.Sub(supply, amount)
	if err != nil {
		return fmt.Errorf("burn %s: %w", asset, ErrCalculation)
	}
	if err := l.state.PutSupply(asset, newSupply); err != nil {
		return err
	}
	l.emit.Emit(events.TokenSupply{Token: asset.String(), Total: newSupply, Delta: amount, Reason: events.SupplyReasonBurn})
	return nil
}

// Transfer moves amount tokens from one holder to another.
func (l Ledger) Transfer(asset Asset, from, to common.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	if err := l.debit(asset, from, amount); err != nil {
		return err
	}
	if err := l.credit(asset, to, amount); err != nil {
		return err
	}
	l.emit.Emit(events.Transfer{Asset: asset.String(), From: from, To: to, Amount: amount})
	return nil
}

func (l Ledger) debit(asset Asset, from common.Address, amount uint64) error {
	balance, err := l.state.GetBalance(asset, from)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s %s has %d, needs %d", ErrInsufficientBalance, asset, from.Hex(), balance, amount)
	}
	return l.state.PutBalance(asset, from, balance-amount)
}

func (l Ledger) credit(asset Asset, to common.Address, amount uint64) error {
	balance, err := l.state.GetBalance(asset, to)
	if err != nil {
		return err
	}
	updated, err := fixedpoint.Add(balance, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", asset, err)
	}
	return l.state.PutBalance(asset, to, updated)
}

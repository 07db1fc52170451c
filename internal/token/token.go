package token

import "sync"

// Token is the fungible collateral asset backing the protocol. It follows the
// usual allowance model: Transfer moves a holder's own balance, TransferFrom
// spends a previously approved allowance. Both return false instead of an
// error so callers are forced to check the result and abort their operation
// on failure.
type Token struct {
	mu         sync.RWMutex
	balances   map[string]int64
	allowances map[string]map[string]int64 // owner -> spender -> amount
}

func New() *Token {
	return &Token{
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

// Mint credits freshly issued units to addr. Used by bootstrap and tests;
// the protocol itself never mints.
func (t *Token) Mint(addr string, amount int64) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	t.balances[addr] += amount
	t.mu.Unlock()
}

func (t *Token) BalanceOf(addr string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balances[addr]
}

// Approve lets spender move up to amount from owner's balance.
func (t *Token) Approve(owner, spender string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[string]int64)
	}
	t.allowances[owner][spender] = amount
}

func (t *Token) Allowance(owner, spender string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowances[owner][spender]
}

// Transfer moves amount from the caller's own balance to dst.
func (t *Token) Transfer(from, to string, amount int64) bool {
	if amount < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return false
	}
	t.balances[from] -= amount
	t.balances[to] += amount
	return true
}

// TransferFrom moves amount from owner to dst on behalf of spender, consuming
// allowance.
func (t *Token) TransferFrom(spender, from, to string, amount int64) bool {
	if amount < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[from][spender] < amount {
		return false
	}
	if t.balances[from] < amount {
		return false
	}
	t.allowances[from][spender] -= amount
	t.balances[from] -= amount
	t.balances[to] += amount
	return true
}

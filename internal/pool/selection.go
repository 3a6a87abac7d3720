package pool

import (
	"sort"
	"time"
)

// Selector chooses an account for a model request. Selection is sticky
// per session key: once a session is bound to an account it keeps using
// it until that account becomes unavailable, which preserves upstream
// prompt-cache hits. Unbound sessions pick the least-recently-selected
// available account.
type Selector struct {
	sticky map[string]string // session key -> email
}

func NewSelector() *Selector {
	return &Selector{sticky: make(map[string]string)}
}

// Select returns an account available for model, or
// ErrNoAccountsConfigured / ExhaustedError. The caller holds the pool
// lock; Selector has no locking of its own.
func (s *Selector) Select(accounts []*Account, sessionKey, model string, now time.Time) (*Account, error) {
	if len(accounts) == 0 {
		return nil, ErrNoAccountsConfigured
	}

	if email, ok := s.sticky[sessionKey]; ok {
		for _, acc := range accounts {
			if acc.Email == email && acc.AvailableFor(model, now) {
				return acc, nil
			}
		}
		// Bound account is gone or unavailable; fall through to rebind.
		delete(s.sticky, sessionKey)
	}

	// Rotation order: least recently selected first, email as the
	// deterministic tie-break.
	ordered := make([]*Account, len(accounts))
	copy(ordered, accounts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].LastSelectedAt.Equal(ordered[j].LastSelectedAt) {
			return ordered[i].LastSelectedAt.Before(ordered[j].LastSelectedAt)
		}
		return ordered[i].Email < ordered[j].Email
	})

	for _, acc := range ordered {
		if acc.AvailableFor(model, now) {
			acc.LastSelectedAt = now
			s.sticky[sessionKey] = acc.Email
			return acc, nil
		}
	}

	return nil, &ExhaustedError{Model: model, Accounts: len(accounts)}
}

// UnbindAccount drops every session binding pointing at email. Used
// when an account is deleted or flips invalid.
func (s *Selector) UnbindAccount(email string) {
	for key, bound := range s.sticky {
		if bound == email {
			delete(s.sticky, key)
		}
	}
}

// Forget drops the binding for one session key.
func (s *Selector) Forget(sessionKey string) {
	delete(s.sticky, sessionKey)
}

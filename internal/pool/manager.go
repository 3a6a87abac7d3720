package pool

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists the account set. Save must replace the previous
// snapshot atomically; the manager serializes calls through its lock.
type Store interface {
	Load() ([]Account, error)
	Save(accounts []Account) error
}

// Refresher guarantees a valid access token for an account. It must
// perform its network work without any pool lock held and deduplicate
// concurrent refreshes per email.
type Refresher interface {
	EnsureValid(ctx context.Context, email string, cred Credential) (Credential, error)
}

// AuthFlow is the opaque OAuth add-account exchange: build a consent
// URL, then redeem the callback code for a credential and the account
// email.
type AuthFlow interface {
	AuthURL(redirectURL, state string) string
	Exchange(ctx context.Context, redirectURL, code string) (Credential, string, error)
}

// ProjectDiscoverer resolves the Cloud Code project id for an access
// token. Discovery is lazy and best effort.
type ProjectDiscoverer interface {
	DiscoverProjectID(ctx context.Context, accessToken string) (string, error)
}

// Lease is a ready-to-use credential handed to the request pipeline.
type Lease struct {
	Email       string
	ProjectID   string
	AccessToken string
	ExpiresAt   time.Time
}

// AccountView is the management-surface projection of one account.
type AccountView struct {
	Email         string `json:"email"`
	ProjectID     string `json:"project_id,omitempty"`
	IsRateLimited bool   `json:"is_rate_limited"`
	IsInvalid     bool   `json:"is_invalid"`
}

// PoolStatus aggregates the pool for the management surface. Available
// counts accounts that are not invalid and have no active cooldown for
// any model.
type PoolStatus struct {
	Total       int           `json:"total"`
	Available   int           `json:"available"`
	RateLimited int           `json:"rate_limited"`
	Invalid     int           `json:"invalid"`
	Accounts    []AccountView `json:"accounts"`
}

const pendingStateTTL = 15 * time.Minute

// Manager owns the in-process pool state. All mutation funnels through
// its mutex; critical sections are O(pool size) and never touch the
// network. Every mutation is written through to the store before the
// lock is released, so the persisted snapshot always matches memory.
type Manager struct {
	mu       sync.Mutex
	accounts []*Account
	selector *Selector
	pending  map[string]time.Time // oauth state -> expiry

	store      Store
	refresher  Refresher
	flow       AuthFlow
	discoverer ProjectDiscoverer

	defaultCooldown time.Duration
	now             func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuthFlow wires the OAuth add-account flow.
func WithAuthFlow(flow AuthFlow) Option {
	return func(m *Manager) { m.flow = flow }
}

// WithProjectDiscoverer enables lazy project-id discovery.
func WithProjectDiscoverer(d ProjectDiscoverer) Option {
	return func(m *Manager) { m.discoverer = d }
}

// WithDefaultCooldown overrides the cooldown used when the upstream
// rate-limits without a retry hint.
func WithDefaultCooldown(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultCooldown = d
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager loads the persisted account set and returns a ready pool.
func NewManager(store Store, refresher Refresher, opts ...Option) (*Manager, error) {
	m := &Manager{
		selector:        NewSelector(),
		pending:         make(map[string]time.Time),
		store:           store,
		refresher:       refresher,
		defaultCooldown: DefaultCooldown,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	accounts, err := store.Load()
	if err != nil {
		return nil, err
	}
	m.accounts = make([]*Account, len(accounts))
	for i := range accounts {
		acc := accounts[i]
		if acc.RateLimits == nil {
			acc.RateLimits = make(map[string]time.Time)
		}
		m.accounts[i] = &acc
	}
	log.Printf("📦 Loaded %d account(s) into pool", len(m.accounts))
	return m, nil
}

// ListAccounts returns the aggregate pool status.
func (m *Manager) ListAccounts() PoolStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	status := PoolStatus{
		Total:    len(m.accounts),
		Accounts: make([]AccountView, 0, len(m.accounts)),
	}
	for _, acc := range m.accounts {
		limited := acc.RateLimitedNow(now)
		switch {
		case acc.Invalid:
			status.Invalid++
		case limited:
			status.RateLimited++
		default:
			status.Available++
		}
		status.Accounts = append(status.Accounts, AccountView{
			Email:         acc.Email,
			ProjectID:     acc.ProjectID,
			IsRateLimited: limited,
			IsInvalid:     acc.Invalid,
		})
	}
	return status
}

// BeginAdd issues a consent URL for the add-account flow. The pool is
// not mutated; the state token is remembered so the callback can be
// validated.
func (m *Manager) BeginAdd(redirectURL string) (authURL, state string) {
	state = uuid.NewString()

	m.mu.Lock()
	now := m.now()
	for s, expiry := range m.pending {
		if now.After(expiry) {
			delete(m.pending, s)
		}
	}
	m.pending[state] = now.Add(pendingStateTTL)
	m.mu.Unlock()

	return m.flow.AuthURL(redirectURL, state), state
}

// CompleteAdd redeems the callback code and adds (or re-authenticates)
// the account. The code exchange happens outside the pool lock.
func (m *Manager) CompleteAdd(ctx context.Context, redirectURL, code, state string) (AccountView, error) {
	m.mu.Lock()
	expiry, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	now := m.now()
	m.mu.Unlock()

	if !ok || now.After(expiry) {
		return AccountView{}, ErrStateMismatch
	}

	cred, email, err := m.flow.Exchange(ctx, redirectURL, code)
	if err != nil {
		return AccountView{}, &OAuthExchangeError{Err: err}
	}

	projectID := ""
	if m.discoverer != nil {
		// The discoverer falls back to the shared default project when
		// every endpoint fails, so a non-empty id is usable even
		// alongside an error.
		pid, derr := m.discoverer.DiscoverProjectID(ctx, cred.AccessToken)
		if derr != nil {
			log.Printf("⚠️ Project discovery failed for %s: %v", email, derr)
		}
		projectID = pid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		acc = &Account{
			Email:      email,
			RateLimits: make(map[string]time.Time),
			CreatedAt:  m.now(),
		}
		m.accounts = append(m.accounts, acc)
	}
	acc.Credential = cred
	acc.Invalid = false
	acc.InvalidReason = ""
	if projectID != "" {
		acc.ProjectID = projectID
	}
	if err := m.persistLocked(); err != nil {
		return AccountView{}, err
	}

	log.Printf("✅ Account added: %s (project: %s)", email, acc.ProjectID)
	return AccountView{Email: acc.Email, ProjectID: acc.ProjectID}, nil
}

// DeleteAccount removes the account and persists. A refresh in flight
// for it completes harmlessly; its result is discarded on arrival.
func (m *Manager) DeleteAccount(email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, acc := range m.accounts {
		if acc.Email == email {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			m.selector.UnbindAccount(email)
			if err := m.persistLocked(); err != nil {
				return err
			}
			log.Printf("🗑️ Account removed: %s", email)
			return nil
		}
	}
	return ErrAccountNotFound
}

// ResetRateLimits clears every cooldown across every account in one
// critical section: no concurrent select or list observes a partially
// reset pool.
func (m *Manager) ResetRateLimits() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ResetAll(m.accounts)
	if err := m.persistLocked(); err != nil {
		return err
	}
	log.Printf("🔄 All rate limits reset")
	return nil
}

// AcquireFor is the hot path: pick an account for (sessionKey, model),
// make sure its token is valid, and hand out a lease. Token refresh and
// project discovery run outside the pool lock.
func (m *Manager) AcquireFor(ctx context.Context, sessionKey, model string) (Lease, error) {
	m.mu.Lock()
	acc, err := m.selector.Select(m.accounts, sessionKey, model, m.now())
	if err != nil {
		m.mu.Unlock()
		return Lease{}, err
	}
	email := acc.Email
	cred := acc.Credential
	m.mu.Unlock()

	fresh, err := m.refresher.EnsureValid(ctx, email, cred)
	if err != nil {
		var inv *CredentialInvalidError
		if errors.As(err, &inv) {
			m.markInvalid(email, inv.Reason)
		} else {
			// Transient failure (timeout, transport): cool the pair down
			// like a rate limit so a retry fails over instead of
			// hammering the same account.
			m.coolDownTransient(sessionKey, email, model)
		}
		return Lease{}, err
	}

	m.mu.Lock()
	acc = m.findLocked(email)
	if acc == nil {
		// Deleted while the refresh was in flight; drop the result.
		m.mu.Unlock()
		return Lease{}, ErrAccountNotFound
	}
	acc.Credential = fresh
	projectID := acc.ProjectID
	if err := m.persistLocked(); err != nil {
		log.Printf("⚠️ Failed to persist refreshed credential for %s: %v", email, err)
	}
	m.mu.Unlock()

	if projectID == "" && m.discoverer != nil {
		projectID = m.discoverProject(ctx, email, fresh.AccessToken)
	}

	return Lease{
		Email:       email,
		ProjectID:   projectID,
		AccessToken: fresh.AccessToken,
		ExpiresAt:   fresh.ExpiresAt,
	}, nil
}

// ReportFailure routes an upstream failure back into the pool state.
// Rate-limit and quota kinds become cooldowns; credential kinds flag
// the account invalid. The caller may then retry AcquireFor once within
// the same logical request.
func (m *Manager) ReportFailure(email, model string, failure Failure) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		return
	}

	now := m.now()
	switch failure.Kind {
	case FailureRateLimited:
		retryAfter := failure.RetryAfter
		if retryAfter <= 0 {
			retryAfter = m.defaultCooldown
		}
		RecordLimited(acc, model, retryAfter, now)
		log.Printf("⏳ Rate limited: %s (model %s, retry in %s)", email, model, retryAfter)
	case FailureQuotaExhausted:
		RecordExhausted(acc, model, now)
		log.Printf("⛔ Quota exhausted: %s (model %s)", email, model)
	case FailureCredentialInvalid:
		acc.Invalid = true
		acc.InvalidReason = failure.Reason
		m.selector.UnbindAccount(email)
		log.Printf("🔒 Account invalid: %s (%s). Re-authenticate it via /auth/start", email, failure.Reason)
	}

	if err := m.persistLocked(); err != nil {
		log.Printf("⚠️ Failed to persist failure state for %s: %v", email, err)
	}
}

func (m *Manager) coolDownTransient(sessionKey, email, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		return
	}
	RecordLimited(acc, model, m.defaultCooldown, m.now())
	m.selector.Forget(sessionKey)
	if err := m.persistLocked(); err != nil {
		log.Printf("⚠️ Failed to persist cooldown for %s: %v", email, err)
	}
	log.Printf("⏳ Refresh failed for %s; cooling down model %s for %s", email, model, m.defaultCooldown)
}

func (m *Manager) markInvalid(email, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		return
	}
	acc.Invalid = true
	acc.InvalidReason = reason
	m.selector.UnbindAccount(email)
	if err := m.persistLocked(); err != nil {
		log.Printf("⚠️ Failed to persist invalid flag for %s: %v", email, err)
	}
	log.Printf("🔒 Account invalid: %s (%s)", email, reason)
}

func (m *Manager) discoverProject(ctx context.Context, email, accessToken string) string {
	pid, err := m.discoverer.DiscoverProjectID(ctx, accessToken)
	if err != nil {
		log.Printf("⚠️ Project discovery failed for %s: %v", email, err)
	}
	if pid == "" {
		return ""
	}

	m.mu.Lock()
	if acc := m.findLocked(email); acc != nil {
		acc.ProjectID = pid
		if err := m.persistLocked(); err != nil {
			log.Printf("⚠️ Failed to persist project id for %s: %v", email, err)
		}
	}
	m.mu.Unlock()
	return pid
}

func (m *Manager) findLocked(email string) *Account {
	for _, acc := range m.accounts {
		if acc.Email == email {
			return acc
		}
	}
	return nil
}

func (m *Manager) persistLocked() error {
	snapshot := make([]Account, len(m.accounts))
	for i, acc := range m.accounts {
		snapshot[i] = acc.Clone()
	}
	return m.store.Save(snapshot)
}

package llm

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/types"
)

// DisableDurations maps an error kind to how long a failing credential
// is taken out of rotation.
type DisableDurations map[ErrorKind]time.Duration

// DefaultDisableDurations returns the standard disable policy: short
// for rate limits, long for quota, permanent for auth failures.
func DefaultDisableDurations() DisableDurations {
	return DisableDurations{
		KindRateLimited:    1 * time.Minute,
		KindQuotaExhausted: 1 * time.Hour,
		KindTimeout:        5 * time.Minute,
		KindOther:          5 * time.Minute,
	}
}

// Credential is a single API key with health state. The pool owns it;
// callers only read the opaque value for one outbound call at a time.
type Credential struct {
	mu            sync.Mutex
	value         string
	failureCount  int
	disabledUntil time.Time
	unauthorized  bool
	lastError     string
	totalCalls    int64
	failedCalls   int64
}

// Value returns the opaque key handle.
func (c *Credential) Value() string { return c.value }

func (c *Credential) usable(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unauthorized {
		return false
	}
	return c.disabledUntil.IsZero() || now.After(c.disabledUntil)
}

// CredentialStats is a point-in-time snapshot of one credential.
type CredentialStats struct {
	Key           string     `json:"key"`
	Available     bool       `json:"available"`
	FailureCount  int        `json:"failure_count"`
	TotalCalls    int64      `json:"total_calls"`
	FailedCalls   int64      `json:"failed_calls"`
	DisabledUntil *time.Time `json:"disabled_until,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// CredentialPool hands out usable credentials round-robin and tracks
// their health. It is process-lifetime and shared across concurrent
// runs, so locking is per-credential: unrelated runs do not serialize
// on each other beyond the round-robin cursor.
type CredentialPool struct {
	creds     []*Credential
	cursor    atomic.Uint64
	durations DisableDurations
	clock     func() time.Time
	logger    *zap.Logger
}

// PoolOption configures a CredentialPool.
type PoolOption func(*CredentialPool)

// WithDisableDurations overrides disable windows per error kind.
// Unset kinds keep their defaults.
func WithDisableDurations(overrides DisableDurations) PoolOption {
	return func(p *CredentialPool) {
		for kind, d := range overrides {
			p.durations[kind] = d
		}
	}
}

// WithClock injects a time source, used by tests to simulate the
// passage of disable windows.
func WithClock(clock func() time.Time) PoolOption {
	return func(p *CredentialPool) { p.clock = clock }
}

// NewCredentialPool creates a pool over the given key values.
func NewCredentialPool(values []string, logger *zap.Logger, opts ...PoolOption) *CredentialPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &CredentialPool{
		durations: DefaultDisableDurations(),
		clock:     time.Now,
		logger:    logger.With(zap.String("component", "credential_pool")),
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		p.creds = append(p.creds, &Credential{value: v})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the total number of credentials, disabled or not.
func (p *CredentialPool) Size() int { return len(p.creds) }

// Current returns the next usable credential, advancing round-robin
// past disabled ones. When every credential is disabled it returns a
// POOL_EXHAUSTED error immediately rather than blocking.
func (p *CredentialPool) Current() (*Credential, error) {
	n := len(p.creds)
	if n == 0 {
		return nil, types.NewError(types.ErrPoolExhausted, "credential pool is empty")
	}

	now := p.clock()
	start := p.cursor.Add(1) - 1
	for i := 0; i < n; i++ {
		cred := p.creds[(start+uint64(i))%uint64(n)]
		if cred.usable(now) {
			return cred, nil
		}
	}
	p.logger.Warn("all credentials disabled", zap.Int("size", n))
	return nil, types.NewError(types.ErrPoolExhausted, "all credentials are disabled")
}

// MarkFailed records a failed call and disables the credential for the
// window configured for kind. Unauthorized disables it until ResetAll.
func (p *CredentialPool) MarkFailed(cred *Credential, kind ErrorKind, callErr error) {
	if cred == nil {
		return
	}
	now := p.clock()

	cred.mu.Lock()
	cred.failureCount++
	cred.totalCalls++
	cred.failedCalls++
	if callErr != nil {
		cred.lastError = callErr.Error()
	}
	if kind == KindUnauthorized {
		cred.unauthorized = true
	} else if d, ok := p.durations[kind]; ok && d > 0 {
		cred.disabledUntil = now.Add(d)
	} else {
		cred.disabledUntil = now.Add(p.durations[KindOther])
	}
	failures := cred.failureCount
	cred.mu.Unlock()

	p.logger.Warn("credential disabled",
		zap.String("kind", string(kind)),
		zap.Int("failure_count", failures),
	)
}

// MarkSucceeded records a successful call and decays the failure count.
func (p *CredentialPool) MarkSucceeded(cred *Credential) {
	if cred == nil {
		return
	}
	cred.mu.Lock()
	cred.totalCalls++
	if cred.failureCount > 0 {
		cred.failureCount--
	}
	cred.mu.Unlock()
}

// AvailableCount returns how many credentials are currently usable.
func (p *CredentialPool) AvailableCount() int {
	now := p.clock()
	count := 0
	for _, cred := range p.creds {
		if cred.usable(now) {
			count++
		}
	}
	return count
}

// ResetAll clears every disable window and failure count, including
// permanently disabled (unauthorized) credentials.
func (p *CredentialPool) ResetAll() {
	for _, cred := range p.creds {
		cred.mu.Lock()
		cred.disabledUntil = time.Time{}
		cred.unauthorized = false
		cred.failureCount = 0
		cred.lastError = ""
		cred.mu.Unlock()
	}
	p.logger.Info("credential pool reset", zap.Int("size", len(p.creds)))
}

// Stats returns health snapshots with key values redacted to a prefix.
func (p *CredentialPool) Stats() []CredentialStats {
	now := p.clock()
	stats := make([]CredentialStats, 0, len(p.creds))
	for _, cred := range p.creds {
		cred.mu.Lock()
		s := CredentialStats{
			Key:          redactKey(cred.value),
			Available:    !cred.unauthorized && (cred.disabledUntil.IsZero() || now.After(cred.disabledUntil)),
			FailureCount: cred.failureCount,
			TotalCalls:   cred.totalCalls,
			FailedCalls:  cred.failedCalls,
			LastError:    cred.lastError,
		}
		if !cred.disabledUntil.IsZero() && now.Before(cred.disabledUntil) {
			until := cred.disabledUntil
			s.DisabledUntil = &until
		}
		cred.mu.Unlock()
		stats = append(stats, s)
	}
	return stats
}

func redactKey(value string) string {
	if len(value) <= 8 {
		return value
	}
	return value[:8] + "..."
}

// Package pinauth authenticates short numeric access codes for the phone
// self-service surface. Codes are low entropy, so the gate pairs a hashed
// lookup with bcrypt verification and throttles brute force per caller IP.
package pinauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
)

const (
	// FailureWindow is how far back failed attempts count toward a lockout.
	FailureWindow = 15 * time.Minute
	// FailureThreshold locks the IP once reached inside the window.
	FailureThreshold = 5
	// LockDuration is how long a locked IP stays blocked.
	LockDuration = 30 * time.Minute

	janitorInterval = 5 * time.Minute
)

// AccountStore resolves accounts by their access-code lookup digest.
type AccountStore interface {
	GetByAccessCodeLookup(lookup string) (*models.Account, error)
}

type bucket struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Gate verifies access codes with a per-IP lockout. State is held in
// process memory: a restart forgives outstanding lockouts, which is an
// acceptable trade for keeping the hot path off the database.
type Gate struct {
	accounts AccountStore

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
}

// NewGate creates an access-code gate.
func NewGate(accounts AccountStore) *Gate {
	return &Gate{
		accounts: accounts,
		buckets:  map[string]*bucket{},
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Authenticate resolves and verifies an access code for the caller IP.
// While the IP is locked every attempt is rejected with a rate-limit error,
// correct codes included, so the lock cannot be used as an oracle.
func (g *Gate) Authenticate(ctx context.Context, ip string, code string) (*models.Account, error) {
	if remaining, locked := g.lockRemaining(ip); locked {
		return nil, apperrors.RateLimited(remaining)
	}
	if code == "" {
		g.recordFailure(ip)
		return nil, apperrors.Validation("access code is required")
	}

	lookup := models.HashAccessCodeLookup(code)
	account, err := g.accounts.GetByAccessCodeLookup(lookup)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			g.recordFailure(ip)
			return nil, apperrors.NotFound("unknown access code")
		}
		// Infrastructure trouble is not the caller's fault; no strike.
		return nil, apperrors.Persistence("account lookup failed", err)
	}

	if !account.CheckAccessCode(code) {
		// Lookup collision or stale digest; treat like a wrong code.
		g.recordFailure(ip)
		return nil, apperrors.NotFound("unknown access code")
	}

	g.clear(ip)
	return account, nil
}

// lockRemaining reports whether the IP is currently locked and for how
// much longer.
func (g *Gate) lockRemaining(ip string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[ip]
	if !ok {
		return 0, false
	}
	now := g.now()
	if b.lockedUntil.After(now) {
		return b.lockedUntil.Sub(now), true
	}
	return 0, false
}

func (g *Gate) recordFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	b, ok := g.buckets[ip]
	if !ok {
		b = &bucket{}
		g.buckets[ip] = b
	}

	cutoff := now.Add(-FailureWindow)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = append(kept, now)

	if len(b.failures) >= FailureThreshold {
		b.lockedUntil = now.Add(LockDuration)
		b.failures = nil
		log.Warnf("[PinAuth] IP %s locked for %s after %d failed attempts", ip, LockDuration, FailureThreshold)
	}
}

func (g *Gate) clear(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.buckets, ip)
}

// Start launches the janitor that evicts expired buckets.
func (g *Gate) Start() {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if g.running {
		return
	}
	g.running = true

	g.wg.Add(1)
	go g.janitor()
}

// Stop terminates the janitor.
func (g *Gate) Stop() {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if !g.running {
		return
	}
	close(g.stopCh)
	g.running = false
	g.wg.Wait()
}

func (g *Gate) janitor() {
	defer g.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Gate) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-FailureWindow)
	for ip, b := range g.buckets {
		if b.lockedUntil.After(now) {
			continue
		}
		stale := true
		for _, at := range b.failures {
			if at.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(g.buckets, ip)
		}
	}
}

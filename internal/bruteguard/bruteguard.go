// Package bruteguard throttles repeated failed logins against the admin
// API: exponential backoff per (ip, user) below the failure threshold,
// a hard cooldown above it.
package bruteguard

import (
	"strings"
	"sync"
	"time"

	"github.com/bridgelab/relaybridge/internal/logx"
)

// Config tunes the guard. Zero fields fall back to the defaults below.
type Config struct {
	// Window is the failure-counting window; entries older than it are
	// softly reset (an active lock still holds).
	Window time.Duration

	// MaxFails triggers a hard Cooldown lock; below it each failure
	// doubles the backoff from BaseBackoff up to MaxBackoff.
	MaxFails    int
	Cooldown    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// GCInterval and AliveFor bound the in-memory table.
	GCInterval time.Duration
	AliveFor   time.Duration
}

func defaultConfig() Config {
	return Config{
		Window:      15 * time.Minute,
		MaxFails:    10,
		Cooldown:    15 * time.Minute,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
		GCInterval:  time.Minute,
		AliveFor:    24 * time.Hour,
	}
}

type entry struct {
	fails       int
	lastFail    time.Time
	lockedUntil time.Time
	lastSeen    time.Time
}

// Guard is safe for concurrent use.
type Guard struct {
	cfg Config

	mu     sync.Mutex
	store  map[string]*entry
	lastGC time.Time
	now    func() time.Time

	log *logx.Logger
}

// New builds a Guard, filling unset config fields with defaults.
func New(cfg Config) *Guard {
	def := defaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxFails <= 0 {
		cfg.MaxFails = def.MaxFails
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = def.GCInterval
	}
	if cfg.AliveFor <= 0 {
		cfg.AliveFor = def.AliveFor
	}
	return &Guard{
		cfg:   cfg,
		store: make(map[string]*entry, 64),
		now:   time.Now,
		log:   logx.New(logx.WithPrefix("bruteguard")),
	}
}

// Allow is called before authenticating. It reports whether the attempt
// may proceed and, when blocked, how long the caller should wait.
func (g *Guard) Allow(ip, user string) (ok bool, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gcIfNeeded()

	now := g.now()
	var next time.Time
	for _, k := range keys(ip, user) {
		if e := g.get(k, now); e != nil && e.lockedUntil.After(next) {
			next = e.lockedUntil
		}
	}
	if next.After(now) {
		wait := next.Sub(now)
		g.log.Debugf("blocked ip=%q user=%q wait=%s", ip, user, wait)
		return false, wait
	}
	return true, 0
}

// Fail records one failed attempt; unknown user and wrong password count
// the same so the response doesn't leak which one it was.
func (g *Guard) Fail(ip, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gcIfNeeded()

	now := g.now()
	for _, k := range keys(ip, user) {
		e := g.getOrCreate(k, now)
		e.fails++
		e.lastFail = now
		e.lastSeen = now

		if g.cfg.MaxFails > 0 && e.fails >= g.cfg.MaxFails {
			e.lockedUntil = now.Add(g.cfg.Cooldown)
			g.log.Debugf("cooldown key=%s fails=%d until=%s", k, e.fails, e.lockedUntil.Format(time.RFC3339))
			continue
		}
		backoff := g.cfg.BaseBackoff
		for i := 1; i < e.fails; i++ {
			backoff *= 2
			if backoff >= g.cfg.MaxBackoff {
				backoff = g.cfg.MaxBackoff
				break
			}
		}
		if until := now.Add(backoff); until.After(e.lockedUntil) {
			e.lockedUntil = until
		}
	}
}

// Success clears the user-scoped counters after a successful login.
func (g *Guard) Success(ip, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gcIfNeeded()

	now := g.now()
	trimIP := strings.TrimSpace(ip)
	trimUser := strings.TrimSpace(user)

	clear := make([]string, 0, 2)
	if trimUser != "" {
		clear = append(clear, "user:"+trimUser)
	}
	if trimIP != "" && trimUser != "" {
		clear = append(clear, "ipuser:"+trimIP+"|"+trimUser)
	}
	for _, k := range clear {
		if e := g.get(k, now); e != nil {
			e.fails = 0
			e.lockedUntil = time.Time{}
			e.lastSeen = now
		}
	}
}

func keys(ip, user string) []string {
	out := make([]string, 0, 3)
	ip = strings.TrimSpace(ip)
	user = strings.TrimSpace(user)
	if ip != "" {
		out = append(out, "ip:"+ip)
	}
	if user != "" {
		out = append(out, "user:"+user)
	}
	if ip != "" && user != "" {
		out = append(out, "ipuser:"+ip+"|"+user)
	}
	return out
}

// get returns the live entry for k, applying the soft window reset.
// Callers hold g.mu.
func (g *Guard) get(k string, now time.Time) *entry {
	e, ok := g.store[k]
	if !ok {
		return nil
	}
	if g.cfg.Window > 0 && !e.lastFail.IsZero() && now.Sub(e.lastFail) > g.cfg.Window {
		e.fails = 0
	}
	return e
}

func (g *Guard) getOrCreate(k string, now time.Time) *entry {
	if e := g.get(k, now); e != nil {
		return e
	}
	e := &entry{lastSeen: now}
	g.store[k] = e
	return e
}

func (g *Guard) gcIfNeeded() {
	now := g.now()
	if now.Sub(g.lastGC) < g.cfg.GCInterval {
		return
	}
	g.lastGC = now
	for k, e := range g.store {
		if now.Sub(e.lastSeen) > g.cfg.AliveFor && !e.lockedUntil.After(now) {
			delete(g.store, k)
		}
	}
}

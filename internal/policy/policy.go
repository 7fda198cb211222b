// Package policy guards the regtest mine-block endpoint against abuse:
// score-based per-IP rate limiting plus IP banning, adapted from the
// teacher's stratum/share security policy down to the one HTTP surface this
// observer exposes that can mutate external state.
package policy

import (
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/tos-headerwatch/internal/storage"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

// Config holds policy configuration.
type Config struct {
	// Banning configuration
	BanningEnabled bool
	BanTimeout     time.Duration // How long to ban an IP
	IPSetName      string        // Linux ipset name for kernel-level banning

	// Score-based rate limiting
	ScoreEnabled     bool
	MaxScore         int32         // Maximum score before temporary ban
	ScoreResetTime   time.Duration // How often to reset scores
	ScoreTempBanTime time.Duration // Temp ban on max score only when > 0; the ban is lifted after BanTimeout
	CostMineRequest  int32         // Cost added to score per mine-block request

	// Reset intervals
	ResetInterval   time.Duration // How often to reset stats
	RefreshInterval time.Duration // How often to refresh the IP whitelist
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		BanningEnabled: true,
		BanTimeout:     10 * time.Minute,
		IPSetName:      "",

		ScoreEnabled:     true,
		MaxScore:         100,
		ScoreResetTime:   1 * time.Minute,
		ScoreTempBanTime: 10 * time.Minute,
		CostMineRequest:  20,

		ResetInterval:   1 * time.Hour,
		RefreshInterval: 5 * time.Minute,
	}
}

// IPStats tracks per-IP statistics.
type IPStats struct {
	mu             sync.Mutex
	LastBeat       int64 // Timestamp of last activity
	BannedAt       int64 // Timestamp when banned (0 = not banned)
	Banned         int32 // 1 = banned, 0 = not banned
	Score          int32 // Score-based rate limiting score
	LastScoreReset int64 // When score was last reset
}

// PolicyServer manages the mine-block endpoint's abuse policy.
type PolicyServer struct {
	config *Config
	redis  *storage.RedisClient

	statsMu sync.RWMutex
	stats   map[string]*IPStats

	listMu    sync.RWMutex
	whitelist map[string]struct{}

	banChan   chan string
	startedAt int64

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPolicyServer creates a new policy server.
func NewPolicyServer(cfg *Config, redis *storage.RedisClient) *PolicyServer {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &PolicyServer{
		config:    cfg,
		redis:     redis,
		stats:     make(map[string]*IPStats),
		whitelist: make(map[string]struct{}),
		banChan:   make(chan string, 64),
		startedAt: time.Now().UnixMilli(),
		quit:      make(chan struct{}),
	}
}

// Start begins the policy server's background tasks.
func (p *PolicyServer) Start() {
	util.Info("Starting mine-block policy server...")

	p.refreshWhitelist()

	p.wg.Add(1)
	go p.resetLoop()

	p.wg.Add(1)
	go p.refreshLoop()

	for i := 0; i < 2; i++ {
		p.wg.Add(1)
		go p.banWorker()
	}

	util.Info("Mine-block policy server started")
}

// Stop shuts down the policy server.
func (p *PolicyServer) Stop() {
	close(p.quit)
	p.wg.Wait()
	util.Info("Mine-block policy server stopped")
}

func (p *PolicyServer) resetLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ResetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.resetStats()
		}
	}
}

func (p *PolicyServer) refreshLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.refreshWhitelist()
		}
	}
}

func (p *PolicyServer) banWorker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case ip := <-p.banChan:
			p.executeBan(ip)
		}
	}
}

func (p *PolicyServer) resetStats() {
	now := time.Now().UnixMilli()
	banTimeout := p.config.BanTimeout.Milliseconds()
	staleTimeout := p.config.ResetInterval.Milliseconds()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	removed := 0
	unbanned := 0

	for ip, stats := range p.stats {
		stats.mu.Lock()

		if stats.BannedAt > 0 && now-stats.BannedAt >= banTimeout {
			stats.BannedAt = 0
			if atomic.CompareAndSwapInt32(&stats.Banned, 1, 0) {
				unbanned++
				util.Infof("Ban expired for %s", ip)
			}
		}

		if now-stats.LastBeat >= staleTimeout && stats.Banned == 0 {
			stats.mu.Unlock()
			delete(p.stats, ip)
			removed++
			continue
		}

		stats.mu.Unlock()
	}

	if removed > 0 || unbanned > 0 {
		util.Debugf("Policy stats reset: removed %d stale, unbanned %d IPs", removed, unbanned)
	}
}

// refreshWhitelist reloads the trusted-IP whitelist from storage, if any.
func (p *PolicyServer) refreshWhitelist() {
	if p.redis == nil {
		return
	}

	whitelist, err := p.redis.GetWhitelist()
	if err != nil {
		util.Warnf("Failed to load IP whitelist: %v", err)
		return
	}

	p.listMu.Lock()
	p.whitelist = make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		p.whitelist[ip] = struct{}{}
	}
	p.listMu.Unlock()
}

func (p *PolicyServer) getStats(ip string) *IPStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	stats, ok := p.stats[ip]
	if !ok {
		stats = &IPStats{LastBeat: time.Now().UnixMilli()}
		p.stats[ip] = stats
	} else {
		stats.LastBeat = time.Now().UnixMilli()
	}

	return stats
}

// IsBanned reports whether an IP is currently banned.
func (p *PolicyServer) IsBanned(ip string) bool {
	if !p.config.BanningEnabled {
		return false
	}

	stats := p.getStats(ip)
	return atomic.LoadInt32(&stats.Banned) > 0
}

// ApplyMineRequestScore adds the mine-block request cost to an IP's score,
// temp-banning it once the score crosses MaxScore. Returns false when the
// request should be rejected.
func (p *PolicyServer) ApplyMineRequestScore(ip string) bool {
	if !p.config.ScoreEnabled {
		return true
	}

	p.listMu.RLock()
	_, whitelisted := p.whitelist[ip]
	p.listMu.RUnlock()
	if whitelisted {
		return true
	}

	stats := p.getStats(ip)
	stats.mu.Lock()
	defer stats.mu.Unlock()

	now := time.Now().Unix()
	if now-stats.LastScoreReset >= int64(p.config.ScoreResetTime.Seconds()) {
		stats.Score = 0
		stats.LastScoreReset = now
	}

	stats.Score += p.config.CostMineRequest
	if stats.Score >= p.config.MaxScore {
		util.Warnf("Mine-block rate limit exceeded for %s: score %d >= %d", ip, stats.Score, p.config.MaxScore)
		stats.Score = 0

		if p.config.ScoreTempBanTime > 0 {
			stats.BannedAt = time.Now().UnixMilli()
			atomic.StoreInt32(&stats.Banned, 1)

			if p.config.IPSetName != "" {
				select {
				case p.banChan <- ip:
				default:
					util.Warn("Ban channel full, skipping ipset for", ip)
				}
			}
		}
		return false
	}

	return true
}

// executeBan adds an IP to the kernel ipset named by config.IPSetName,
// mirroring the teacher's kernel-level enforcement for banned peers.
func (p *PolicyServer) executeBan(ip string) {
	if p.config.IPSetName == "" {
		return
	}

	timeout := strconv.Itoa(int(p.config.BanTimeout.Seconds()))
	cmd := exec.Command("sudo", "ipset", "add", p.config.IPSetName, ip, "timeout", timeout, "-!")

	if err := cmd.Run(); err != nil {
		util.Warnf("Failed to add %s to ipset: %v", ip, err)
	} else {
		util.Debugf("Added %s to ipset %s with timeout %ss", ip, p.config.IPSetName, timeout)
	}
}

// IsWhitelisted reports whether an IP is exempt from rate limiting.
func (p *PolicyServer) IsWhitelisted(ip string) bool {
	p.listMu.RLock()
	defer p.listMu.RUnlock()
	_, ok := p.whitelist[ip]
	return ok
}

// GetStats returns the number of tracked and currently-banned IPs.
func (p *PolicyServer) GetStats() (total, banned int) {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()

	total = len(p.stats)
	for _, stats := range p.stats {
		if atomic.LoadInt32(&stats.Banned) > 0 {
			banned++
		}
	}
	return
}

// AddToWhitelist adds an IP to the whitelist.
func (p *PolicyServer) AddToWhitelist(ip string) error {
	if p.redis != nil {
		if err := p.redis.AddToWhitelist(ip); err != nil {
			return err
		}
	}

	p.listMu.Lock()
	p.whitelist[ip] = struct{}{}
	p.listMu.Unlock()

	return nil
}

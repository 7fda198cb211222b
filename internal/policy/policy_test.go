package policy

import (
	"sync"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if !cfg.BanningEnabled {
		t.Error("BanningEnabled should be true by default")
	}

	if cfg.BanTimeout != 10*time.Minute {
		t.Errorf("BanTimeout = %v, want 10m", cfg.BanTimeout)
	}

	if !cfg.ScoreEnabled {
		t.Error("ScoreEnabled should be true by default")
	}

	if cfg.MaxScore != 100 {
		t.Errorf("MaxScore = %v, want 100", cfg.MaxScore)
	}

	if cfg.CostMineRequest != 20 {
		t.Errorf("CostMineRequest = %v, want 20", cfg.CostMineRequest)
	}
}

func TestNewPolicyServer(t *testing.T) {
	ps := NewPolicyServer(nil, nil)
	if ps == nil {
		t.Fatal("NewPolicyServer returned nil")
	}
	if ps.config == nil {
		t.Fatal("PolicyServer.config should not be nil")
	}

	cfg := &Config{BanningEnabled: false, MaxScore: 5}
	ps = NewPolicyServer(cfg, nil)
	if ps.config.MaxScore != 5 {
		t.Errorf("MaxScore = %v, want 5", ps.config.MaxScore)
	}
}

func TestIsBanned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 10
	ps := NewPolicyServer(cfg, nil)

	ip := "192.168.1.100"

	if ps.IsBanned(ip) {
		t.Error("IP should not be banned initially")
	}

	ps.ApplyMineRequestScore(ip)

	if !ps.IsBanned(ip) {
		t.Error("IP should be banned after exceeding max score")
	}
}

func TestIsBannedDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BanningEnabled = false
	cfg.MaxScore = 1
	ps := NewPolicyServer(cfg, nil)

	ip := "192.168.1.100"
	ps.ApplyMineRequestScore(ip)

	if ps.IsBanned(ip) {
		t.Error("IP should not report banned when banning is disabled")
	}
}

func TestApplyMineRequestScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 50
	cfg.CostMineRequest = 20
	cfg.ScoreResetTime = 1 * time.Hour
	ps := NewPolicyServer(cfg, nil)

	ip := "192.168.1.100"

	if !ps.ApplyMineRequestScore(ip) {
		t.Error("first request (score 20) should be allowed")
	}
	if !ps.ApplyMineRequestScore(ip) {
		t.Error("second request (score 40) should be allowed")
	}
	if ps.ApplyMineRequestScore(ip) {
		t.Error("third request (score 60) should exceed max and be denied")
	}
	if !ps.IsBanned(ip) {
		t.Error("IP should be banned after exceeding max score")
	}
}

func TestApplyMineRequestScoreDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreEnabled = false
	ps := NewPolicyServer(cfg, nil)

	ip := "192.168.1.100"
	for i := 0; i < 100; i++ {
		if !ps.ApplyMineRequestScore(ip) {
			t.Error("should always allow when score-based limiting is disabled")
		}
	}
}

func TestApplyMineRequestScoreWhitelistedBypassesLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 1
	cfg.CostMineRequest = 10
	ps := NewPolicyServer(cfg, nil)

	ip := "192.168.1.100"
	ps.AddToWhitelist(ip)

	for i := 0; i < 10; i++ {
		if !ps.ApplyMineRequestScore(ip) {
			t.Error("whitelisted IP should never be rate limited")
		}
	}
}

func TestIsWhitelisted(t *testing.T) {
	cfg := DefaultConfig()
	ps := NewPolicyServer(cfg, nil)

	ip := "192.168.1.100"

	if ps.IsWhitelisted(ip) {
		t.Error("IP should not be whitelisted initially")
	}

	ps.AddToWhitelist(ip)

	if !ps.IsWhitelisted(ip) {
		t.Error("IP should be whitelisted after AddToWhitelist")
	}
}

func TestGetStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 1
	ps := NewPolicyServer(cfg, nil)

	total, banned := ps.GetStats()
	if total != 0 || banned != 0 {
		t.Fatalf("expected zero stats initially, got total=%d banned=%d", total, banned)
	}

	ps.getStats("192.168.1.1")
	ps.getStats("192.168.1.2")
	ps.ApplyMineRequestScore("192.168.1.3")

	total, banned = ps.GetStats()
	if total != 3 {
		t.Errorf("Total = %d, want 3", total)
	}
	if banned != 1 {
		t.Errorf("Banned = %d, want 1", banned)
	}
}

func TestConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxScore = 1000000
	ps := NewPolicyServer(cfg, nil)

	var wg sync.WaitGroup
	ips := []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := ips[id%len(ips)]

			for j := 0; j < 100; j++ {
				ps.IsBanned(ip)
				ps.ApplyMineRequestScore(ip)
			}
		}(i)
	}

	wg.Wait()

	total, _ := ps.GetStats()
	if total == 0 {
		t.Error("should have tracked some IPs")
	}
}

func BenchmarkIsBanned(b *testing.B) {
	cfg := DefaultConfig()
	ps := NewPolicyServer(cfg, nil)
	ip := "192.168.1.100"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ps.IsBanned(ip)
	}
}

func BenchmarkApplyMineRequestScore(b *testing.B) {
	cfg := DefaultConfig()
	cfg.MaxScore = 1000000
	ps := NewPolicyServer(cfg, nil)
	ip := "192.168.1.100"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ps.ApplyMineRequestScore(ip)
	}
}

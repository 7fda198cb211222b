// Package mineblock shells out to a regtest node's CLI to force-mine a
// block on demand, the only network type where that operation is safe.
package mineblock

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tos-network/tos-headerwatch/internal/util"
)

// Named error reasons surfaced to the HTTP boundary, per the mine-block
// endpoint's documented error codes.
var (
	ErrNotRegtest      = fmt.Errorf("mine-block requested on a non-regtest network")
	ErrExecutionFailed = fmt.Errorf("mine-block CLI invocation failed")
)

// Config names the CLI binary and the wallet to generate blocks into.
type Config struct {
	CLIPath    string
	WalletName string
}

// Runner invokes a regtest CLI's -generate and load/create-wallet commands.
type Runner struct {
	cfg Config
}

// New returns a Runner for the given CLI configuration.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// MineOne ensures the configured wallet exists, then generates one block
// into it. url/user/password address the target node's RPC endpoint.
func (r *Runner) MineOne(ctx context.Context, url, user, password string) error {
	if err := r.ensureWallet(ctx, url, user, password); err != nil {
		return fmt.Errorf("mineblock: %w: %v", ErrExecutionFailed, err)
	}

	args := r.baseArgs(url, user, password)
	args = append(args, "-rpcwallet="+r.cfg.WalletName, "-generate", "1")
	cmd := exec.CommandContext(ctx, r.cfg.CLIPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		util.Warnf("mineblock: generate failed: %v: %s", err, strings.TrimSpace(string(out)))
		return fmt.Errorf("mineblock: %w: %v", ErrExecutionFailed, err)
	}
	util.Debugf("mineblock: generated block via wallet %s", r.cfg.WalletName)
	return nil
}

// ensureWallet loads the configured wallet, creating it on first use.
// Both outcomes (already loaded, just created) are treated as success; only
// an error unrelated to "already loaded" is surfaced.
func (r *Runner) ensureWallet(ctx context.Context, url, user, password string) error {
	loadArgs := append(r.baseArgs(url, user, password), "loadwallet", r.cfg.WalletName)
	loadCmd := exec.CommandContext(ctx, r.cfg.CLIPath, loadArgs...)
	if out, err := loadCmd.CombinedOutput(); err == nil {
		return nil
	} else if strings.Contains(string(out), "already loaded") {
		return nil
	}

	createArgs := append(r.baseArgs(url, user, password), "createwallet", r.cfg.WalletName)
	createCmd := exec.CommandContext(ctx, r.cfg.CLIPath, createArgs...)
	out, err := createCmd.CombinedOutput()
	if err != nil && !strings.Contains(string(out), "already exists") {
		return fmt.Errorf("createwallet: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *Runner) baseArgs(url, user, password string) []string {
	args := []string{"-regtest", "-rpcconnect=" + url}
	if user != "" {
		args = append(args, "-rpcuser="+user, "-rpcpassword="+password)
	}
	return args
}

// tos-headerwatch observes one or more chains' header trees across their
// configured RPC peers, serving a collapsed view over HTTP/SSE/RSS.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tos-network/tos-headerwatch/internal/api"
	"github.com/tos-network/tos-headerwatch/internal/broadcast"
	"github.com/tos-network/tos-headerwatch/internal/cache"
	"github.com/tos-network/tos-headerwatch/internal/config"
	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/headerstore"
	"github.com/tos-network/tos-headerwatch/internal/headertree"
	"github.com/tos-network/tos-headerwatch/internal/mineblock"
	"github.com/tos-network/tos-headerwatch/internal/minerid"
	"github.com/tos-network/tos-headerwatch/internal/newrelic"
	"github.com/tos-network/tos-headerwatch/internal/notify"
	"github.com/tos-network/tos-headerwatch/internal/poller"
	"github.com/tos-network/tos-headerwatch/internal/policy"
	"github.com/tos-network/tos-headerwatch/internal/profiling"
	"github.com/tos-network/tos-headerwatch/internal/rpc"
	"github.com/tos-network/tos-headerwatch/internal/storage"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tos-headerwatch v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("tos-headerwatch v%s starting, tracking %d network(s)", version, len(cfg.Networks))

	store, err := headerstore.New(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		util.Fatalf("Failed to connect to header store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Setup(ctx); err != nil {
		util.Fatalf("Failed to set up header store: %v", err)
	}

	opsRedis, err := storage.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		util.Fatalf("Failed to connect to operational-state Redis: %v", err)
	}
	defer opsRedis.Close()

	var nrAgent *newrelic.Agent
	if cfg.NewRelic.Enabled {
		nrAgent = newrelic.NewAgent(&cfg.NewRelic)
		if err := nrAgent.Start(); err != nil {
			util.Errorf("Failed to start New Relic agent: %v", err)
		}
		defer nrAgent.Stop()
	}

	var pprofServer *profiling.Server
	if cfg.Profiling.Enabled {
		pprofServer = profiling.NewServer(&cfg.Profiling)
		if err := pprofServer.Start(); err != nil {
			util.Errorf("Failed to start pprof server: %v", err)
		}
		defer pprofServer.Stop()
	}

	policyConfig := policy.DefaultConfig()
	policyConfig.BanningEnabled = cfg.Security.RateLimitEnabled
	if cfg.Security.MineRateLimit > 0 {
		policyConfig.CostMineRequest = int32(100 / cfg.Security.MineRateLimit)
	}
	if cfg.Security.BanDuration > 0 {
		policyConfig.BanTimeout = cfg.Security.BanDuration
		policyConfig.ScoreTempBanTime = cfg.Security.BanDuration
	}
	policyServer := policy.NewPolicyServer(policyConfig, opsRedis)
	policyServer.Start()
	defer policyServer.Stop()

	var notifier *notify.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.NewNotifier(&notify.WebhookConfig{
			DiscordURL:   cfg.Notify.DiscordURL,
			TelegramBot:  cfg.Notify.TelegramBot,
			TelegramChat: cfg.Notify.TelegramChat,
			Enabled:      cfg.Notify.Enabled,
			WatchedPools: cfg.Notify.WatchedPools,
		})
	}

	bcast := broadcast.New()
	cacheMgr := cache.NewManager(bcast)
	miner := mineblock.New(mineblock.Config{
		CLIPath:    cfg.MineInfo.CLIPath,
		WalletName: cfg.MineInfo.WalletName,
	})

	for _, network := range cfg.Networks {
		startNetwork(ctx, network, cfg.QueryInterval, store, cacheMgr, nrAgent, notifier)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, cacheMgr, bcast, miner, policyServer)
		if err := apiServer.Start(); err != nil {
			util.Fatalf("Failed to start API server: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("tos-headerwatch started successfully. Press Ctrl+C to stop.")
	<-sigChan
	util.Info("Shutting down...")

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			util.Warnf("api server shutdown: %v", err)
		}
	}

	util.Info("Shutdown complete.")
}

// startNetwork loads one network's tree from the header store, then launches
// one Poller per configured RPC peer plus one miner-ID worker. None of these
// have a graceful shutdown surface: they run until process exit, matching
// the observer's single long-lived-task model (see internal/poller).
func startNetwork(
	ctx context.Context,
	network config.Network,
	queryInterval time.Duration,
	store *headerstore.Store,
	cacheMgr *cache.Manager,
	nrAgent *newrelic.Agent,
	notifier *notify.Notifier,
) {
	tree := headertree.New()

	infos, err := store.LoadTreeInfos(ctx, network.ID, network.FirstTrackedHeight)
	if err != nil {
		util.Fatalf("network %d: failed to load header store: %v", network.ID, err)
	}
	tree.InsertHeaders(infos)

	view := tree.StripTree(network.MaxInterestingHeights, network.FirstTrackedHeight, nil)
	forks := tree.RecentForks(20)

	nodes := make([]domain.NodeDataJson, 0, len(network.Nodes))
	peers := make([]poller.Peer, 0, len(network.Nodes))
	minerPeers := make([]minerid.Peer, 0, len(network.Nodes))

	for _, node := range network.Nodes {
		info := domain.NodeInfo{
			ID:             node.ID,
			Name:           node.Name,
			Description:    node.Description,
			Implementation: node.Implementation,
		}
		nodes = append(nodes, domain.NewNodeDataJson(info, nil, "", 0, false))

		timeout := node.Timeout
		if timeout == 0 {
			timeout = 8 * time.Second
		}
		peer := rpc.NewPeerClient(node.URL, node.User, node.Password, timeout, info)
		peers = append(peers, peer)
		minerPeers = append(minerPeers, peer)
	}

	cacheMgr.Init(network.ID, view, forks, nodes)

	queue := minerid.NewQueue()
	worker := &minerid.Worker{
		NetworkID:             network.ID,
		Peers:                 minerPeers,
		Tree:                  tree,
		Store:                 store,
		CacheMgr:              cacheMgr,
		Queue:                 queue,
		Classify:              minerid.DefaultClassifier,
		MaxInterestingHeights: network.MaxInterestingHeights,
		FirstTrackedHeight:    network.FirstTrackedHeight,
		Notify:                notifier,
		NewRelic:              nrAgent,
	}
	go worker.Run()
	worker.ScheduleBackfill()

	for i, node := range network.Nodes {
		p := &poller.Poller{
			NetworkID:             network.ID,
			NodeID:                node.ID,
			Peer:                  peers[i],
			Tree:                  tree,
			CacheMgr:              cacheMgr,
			Store:                 store,
			FirstTrackedHeight:    network.FirstTrackedHeight,
			MaxInterestingHeights: network.MaxInterestingHeights,
			MinerIDs:              queue,
			TickInterval:          queryInterval / time.Duration(len(network.Nodes)),
			Jitter:                time.Duration(network.ID%10) * time.Second,
			NewRelic:              nrAgent,
		}
		go p.Run()
	}

	util.Infof("network %d (%s): loaded %d headers, launched %d pollers", network.ID, network.Name, len(infos), len(network.Nodes))
}

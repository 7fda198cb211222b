// Package api serves the observer's JSON/SSE/RSS read surface plus the
// regtest mine-block action, over a gin router.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tos-network/tos-headerwatch/internal/broadcast"
	"github.com/tos-network/tos-headerwatch/internal/cache"
	"github.com/tos-network/tos-headerwatch/internal/config"
	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/mineblock"
	"github.com/tos-network/tos-headerwatch/internal/policy"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

// mineError pairs an HTTP status with the named error code the mine-block
// endpoint must return.
type mineError struct {
	status int
	code   string
}

func (e mineError) Error() string { return e.code }

var (
	errMineNetworkNotFound      = mineError{http.StatusNotFound, "MINE_NETWORK_NOT_FOUND"}
	errMineSignetNotImplemented = mineError{http.StatusBadRequest, "MINE_SIGNET_NOT_IMPLEMENTED"}
	errMineViewOnlyNetwork      = mineError{http.StatusBadRequest, "MINE_VIEW_ONLY_NETWORK"}
	errMineBackendUnsupported   = mineError{http.StatusBadRequest, "MINE_BACKEND_UNSUPPORTED"}
	errMineExecutionFailed      = mineError{http.StatusInternalServerError, "MINE_EXECUTION_FAILED"}
	errMineRateLimited          = mineError{http.StatusTooManyRequests, "MINE_RATE_LIMITED"}
)

// Server is the HTTP/SSE/RSS boundary: it reads from the cache manager and
// invokes the regtest mine-block runner, nothing else.
type Server struct {
	cfg      *config.Config
	cacheMgr *cache.Manager
	bcast    *broadcast.Broadcaster
	miner    *mineblock.Runner
	policy   *policy.PolicyServer

	router *gin.Engine
	server *http.Server
}

// NewServer wires a router over the shared cache manager and broadcaster.
// policySrv may be nil, in which case the mine-block endpoint is unrestricted.
func NewServer(cfg *config.Config, cacheMgr *cache.Manager, bcast *broadcast.Broadcaster, miner *mineblock.Runner, policySrv *policy.PolicyServer) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		cacheMgr: cacheMgr,
		bcast:    bcast,
		miner:    miner,
		policy:   policySrv,
		router:   router,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	api := s.router.Group("/api")
	{
		api.GET("/networks.json", s.handleNetworks)
		api.GET("/:network_id/data.json", s.handleData)
		api.GET("/changes", s.handleChanges)
		api.POST("/:network_id/mine-block", s.handleMineBlock)
	}

	rss := s.router.Group("/rss")
	{
		rss.GET("/:network_id/forks.xml", s.handleRSSForks)
		rss.GET("/:network_id/invalid.xml", s.handleRSSInvalid)
		rss.GET("/:network_id/lagging.xml", s.handleRSSLagging)
		rss.GET("/:network_id/unreachable.xml", s.handleRSSUnreachable)
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Start begins serving in the background. Intended to be paired with Stop
// on process shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.API.Bind,
		Handler: s.router,
	}
	util.Infof("api: listening on %s", s.cfg.API.Bind)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("api: server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully closes the listener. The header-tree tasks it serves have
// no shutdown surface of their own; only this boundary is closed cleanly.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleNetworks(c *gin.Context) {
	networks := make([]domain.NetworkJson, 0, len(s.cfg.Networks))
	for _, n := range s.cfg.Networks {
		nj := domain.NetworkJson{ID: n.ID, Name: n.Name, Description: n.Description}
		if n.NetworkType != "" {
			t := string(n.NetworkType)
			nj.NetworkType = &t
		}
		networks = append(networks, nj)
	}
	c.JSON(http.StatusOK, gin.H{"networks": networks})
}

func (s *Server) handleData(c *gin.Context) {
	networkID, err := parseNetworkID(c.Param("network_id"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"header_infos": []domain.HeaderInfoJson{}, "nodes": []domain.NodeDataJson{}})
		return
	}

	cch, ok := s.cacheMgr.Get(networkID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"header_infos": []domain.HeaderInfoJson{}, "nodes": []domain.NodeDataJson{}})
		return
	}

	infos, nodes := cch.Snapshot()
	c.JSON(http.StatusOK, gin.H{"header_infos": infos, "nodes": nodes})
}

// handleChanges streams cache_changed SSE events, one per broadcaster
// notification, plus a periodic keep-alive comment.
func (s *Server) handleChanges(c *gin.Context) {
	sub := s.bcast.Subscribe()
	defer sub.Unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case networkID := <-sub.C():
			c.SSEvent("cache_changed", gin.H{"network_id": networkID})
			c.Writer.Flush()
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		}
	}
}

func (s *Server) handleMineBlock(c *gin.Context) {
	if s.policy != nil {
		ip := c.ClientIP()
		if s.policy.IsBanned(ip) || !s.policy.ApplyMineRequestScore(ip) {
			writeMineError(c, errMineRateLimited)
			return
		}
	}

	networkID, err := parseNetworkID(c.Param("network_id"))
	if err != nil {
		writeMineError(c, errMineNetworkNotFound)
		return
	}

	var body struct {
		NodeID uint32 `json:"node_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeMineError(c, errMineNetworkNotFound)
		return
	}

	network, ok := s.findNetwork(networkID)
	if !ok {
		writeMineError(c, errMineNetworkNotFound)
		return
	}

	switch network.NetworkType {
	case config.NetworkRegtest:
		// proceed below
	case config.NetworkSignet:
		writeMineError(c, errMineSignetNotImplemented)
		return
	case config.NetworkMainnet, config.NetworkTestnet:
		writeMineError(c, errMineViewOnlyNetwork)
		return
	default:
		writeMineError(c, errMineBackendUnsupported)
		return
	}

	node, ok := findNode(network, body.NodeID)
	if !ok {
		writeMineError(c, errMineNetworkNotFound)
		return
	}

	if err := s.miner.MineOne(c.Request.Context(), node.URL, node.User, node.Password); err != nil {
		util.Warnf("api: mine-block on network %d node %d: %v", networkID, body.NodeID, err)
		writeMineError(c, errMineExecutionFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func writeMineError(c *gin.Context, e mineError) {
	c.JSON(e.status, gin.H{"success": false, "error": e.code})
}

func (s *Server) findNetwork(id uint32) (config.Network, bool) {
	for _, n := range s.cfg.Networks {
		if n.ID == id {
			return n, true
		}
	}
	return config.Network{}, false
}

func findNode(network config.Network, id uint32) (config.NodeConfig, bool) {
	for _, n := range network.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return config.NodeConfig{}, false
}

func parseNetworkID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

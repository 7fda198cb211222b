package api

import (
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tos-network/tos-headerwatch/internal/domain"
)

// laggingThreshold is how many blocks behind the network's highest active
// tip a node must be before it is reported as lagging.
const laggingThreshold = 3

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link,omitempty"`
	Description string `xml:"description"`
	GUID        string `xml:"guid"`
}

func (s *Server) writeFeed(c *gin.Context, networkID uint32, title, slug string, items []rssItem) {
	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       fmt.Sprintf("%s (network %d)", title, networkID),
			Link:        fmt.Sprintf("%s/rss/%d/%s.xml", s.cfg.RSSBaseURL, networkID, slug),
			Description: title,
			Items:       items,
		},
	}
	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.XML(http.StatusOK, feed)
}

func (s *Server) handleRSSForks(c *gin.Context) {
	networkID, err := parseNetworkID(c.Param("network_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	cch, ok := s.cacheMgr.Get(networkID)
	if !ok {
		s.writeFeed(c, networkID, "Forks", "forks", nil)
		return
	}

	forks := cch.Forks()
	items := make([]rssItem, 0, len(forks))
	for _, f := range forks {
		hash := f.Common.Header.BlockHash().String()
		items = append(items, rssItem{
			Title:       fmt.Sprintf("Fork at height %d", f.Common.Height),
			Description: fmt.Sprintf("%d children diverge from %s", len(f.Children), hash),
			GUID:        fmt.Sprintf("fork-%d-%s", networkID, hash),
		})
	}
	s.writeFeed(c, networkID, "Forks", "forks", items)
}

func (s *Server) handleRSSInvalid(c *gin.Context) {
	networkID, err := parseNetworkID(c.Param("network_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	cch, ok := s.cacheMgr.Get(networkID)
	if !ok {
		s.writeFeed(c, networkID, "Invalid blocks", "invalid", nil)
		return
	}

	_, nodes := cch.Snapshot()
	// Group by hash: which nodes reported a given tip as invalid.
	reporters := make(map[string][]string)
	heights := make(map[string]uint64)
	for _, nd := range nodes {
		for _, tip := range nd.Tips {
			if tip.Status != domain.ChainTipInvalid {
				continue
			}
			reporters[tip.Hash] = append(reporters[tip.Hash], nd.Name)
			heights[tip.Hash] = tip.Height
		}
	}

	items := make([]rssItem, 0, len(reporters))
	for hash, names := range reporters {
		items = append(items, rssItem{
			Title:       fmt.Sprintf("Invalid block at height %d", heights[hash]),
			Description: fmt.Sprintf("%s reported invalid by: %v", hash, names),
			GUID:        fmt.Sprintf("invalid-%d-%s", networkID, hash),
		})
	}
	s.writeFeed(c, networkID, "Invalid blocks", "invalid", items)
}

func (s *Server) handleRSSLagging(c *gin.Context) {
	networkID, err := parseNetworkID(c.Param("network_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	cch, ok := s.cacheMgr.Get(networkID)
	if !ok {
		s.writeFeed(c, networkID, "Lagging nodes", "lagging", nil)
		return
	}

	_, nodes := cch.Snapshot()
	if len(nodes) < 2 {
		s.writeFeed(c, networkID, "Lagging nodes", "lagging", nil)
		return
	}

	activeHeight := make(map[uint32]uint64)
	var maxHeight uint64
	for _, nd := range nodes {
		for _, tip := range nd.Tips {
			if tip.Status != domain.ChainTipActive {
				continue
			}
			activeHeight[nd.ID] = tip.Height
			if tip.Height > maxHeight {
				maxHeight = tip.Height
			}
		}
	}

	items := make([]rssItem, 0)
	for _, nd := range nodes {
		height, ok := activeHeight[nd.ID]
		if !ok {
			continue
		}
		if maxHeight-height <= laggingThreshold {
			continue
		}
		items = append(items, rssItem{
			Title:       fmt.Sprintf("%s is lagging", nd.Name),
			Description: fmt.Sprintf("at height %d, %d behind the network's %d", height, maxHeight-height, maxHeight),
			GUID:        fmt.Sprintf("lagging-%d-%d", networkID, nd.ID),
		})
	}
	s.writeFeed(c, networkID, "Lagging nodes", "lagging", items)
}

func (s *Server) handleRSSUnreachable(c *gin.Context) {
	networkID, err := parseNetworkID(c.Param("network_id"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	cch, ok := s.cacheMgr.Get(networkID)
	if !ok {
		s.writeFeed(c, networkID, "Unreachable nodes", "unreachable", nil)
		return
	}

	_, nodes := cch.Snapshot()
	items := make([]rssItem, 0)
	for _, nd := range nodes {
		if nd.Reachable {
			continue
		}
		items = append(items, rssItem{
			Title:       fmt.Sprintf("%s is unreachable", nd.Name),
			Description: nd.Description,
			GUID:        fmt.Sprintf("unreachable-%d-%d", networkID, nd.ID),
		})
	}
	s.writeFeed(c, networkID, "Unreachable nodes", "unreachable", items)
}

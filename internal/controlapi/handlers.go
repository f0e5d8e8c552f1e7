package controlapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"copytrader/internal/copytrader"
)

type healthResponse struct {
	Status               string   `json:"status"`
	PoolReachable        bool     `json:"poolReachable"`
	ActiveSourceAccounts []string `json:"activeSourceAccounts"`
}

func (s *Server) handleHealth(c *gin.Context) {
	traders := s.traders()
	accounts := make([]string, 0, len(traders))
	for _, t := range traders {
		accounts = append(accounts, t.SourceAccountID())
	}

	poolReachable := true
	if s.cfg.Pool != nil {
		if _, err := s.cfg.Pool.AccountInfo(c.Request.Context(), probeAccount(accounts), ""); err != nil {
			poolReachable = false
		}
	}

	status := http.StatusOK
	if !poolReachable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, healthResponse{
		Status:               statusLabel(poolReachable),
		PoolReachable:        poolReachable,
		ActiveSourceAccounts: accounts,
	})
}

func probeAccount(accounts []string) string {
	if len(accounts) == 0 {
		return ""
	}
	return accounts[0]
}

func statusLabel(reachable bool) string {
	if reachable {
		return "ok"
	}
	return "degraded"
}

type statsEntry struct {
	SourceAccountID string `json:"sourceAccountId"`
	Opens           int64  `json:"opens"`
	Closes          int64  `json:"closes"`
	Skips           int64  `json:"skips"`
	Retries         int64  `json:"retries"`
}

func (s *Server) handleStats(c *gin.Context) {
	traders := s.traders()
	out := make([]statsEntry, 0, len(traders))
	for _, t := range traders {
		stats := t.Stats()
		out = append(out, statsEntry{
			SourceAccountID: t.SourceAccountID(),
			Opens:           stats.Opens,
			Closes:          stats.Closes,
			Skips:           stats.Skips,
			Retries:         stats.Retries,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

func (s *Server) handleMappings(c *gin.Context) {
	source := c.Query("source")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source query parameter is required"})
		return
	}
	mappings, err := s.cfg.Store.GetAccountMappings(c.Request.Context(), source)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

func (s *Server) handleBreaker(c *gin.Context) {
	if s.cfg.Breaker == nil {
		c.JSON(http.StatusOK, gin.H{"accounts": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": s.cfg.Breaker.Snapshot()})
}

// handleResync forces a copyExit attempt for one mapping, the same
// retry-protocol entry point the trading loop uses for close replication.
func (s *Server) handleResync(c *gin.Context) {
	sourceID, posID := c.Param("sourceId"), c.Param("posId")

	mapping, err := s.cfg.Store.GetMapping(c.Request.Context(), sourceID, posID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if mapping == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no mapping for that source account/position"})
		return
	}

	outcome := copytrader.CopyExit(c.Request.Context(), s.cfg.Pool, mapping)
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

// handleManualDelete is the operator override: remove a mapping record
// without touching the destination position. It never calls closePosition
// itself. An operator using this accepts responsibility for the
// destination state, matching §4.I's "manual delete" semantics.
func (s *Server) handleManualDelete(c *gin.Context) {
	sourceID, posID := c.Param("sourceId"), c.Param("posId")

	if err := s.cfg.Store.DeleteMapping(c.Request.Context(), sourceID, posID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) traders() []*copytrader.Trader {
	if s.cfg.Traders == nil {
		return nil
	}
	return s.cfg.Traders()
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/apk-analysis/dexkit-bridge/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HistoryHandler 构造历史处理器
type HistoryHandler struct {
	repo   repository.LoadRecordRepository
	logger *logrus.Logger
}

// NewHistoryHandler 创建构造历史处理器实例
func NewHistoryHandler(repo repository.LoadRecordRepository, logger *logrus.Logger) *HistoryHandler {
	return &HistoryHandler{
		repo:   repo,
		logger: logger,
	}
}

// ListHistory 获取最近的构造记录
// GET /api/history?limit=50
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit 必须在 1 到 1000 之间",
		})
		return
	}

	records, err := h.repo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list load records")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "查询失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
	})
}

// GetStatistics 获取构造统计
// GET /api/history/stats
func (h *HistoryHandler) GetStatistics(c *gin.Context) {
	stats, err := h.repo.GetStatistics(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get load statistics")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "查询失败",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

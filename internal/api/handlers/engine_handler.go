package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/apk-analysis/dexkit-bridge/internal/bridge"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EngineService 引擎句柄操作，由 *bridge.Bridge 实现
type EngineService interface {
	InitFromPath(path string) int64
	Release(handle int64)
	SetThreadNum(handle int64, n int) error
	Describe(handle int64) (bridge.Info, error)
	List() []bridge.Info
}

// EngineHandler 引擎处理器
type EngineHandler struct {
	service EngineService
	logger  *logrus.Logger
}

// NewEngineHandler 创建引擎处理器实例
func NewEngineHandler(service EngineService, logger *logrus.Logger) *EngineHandler {
	return &EngineHandler{
		service: service,
		logger:  logger,
	}
}

type createEngineRequest struct {
	Path string `json:"path" binding:"required"`
}

type setThreadsRequest struct {
	Threads int `json:"threads" binding:"required,min=1"`
}

func parseHandle(c *gin.Context) (int64, bool) {
	handle, err := strconv.ParseInt(c.Param("handle"), 10, 64)
	if err != nil || handle == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "无效的句柄",
		})
		return 0, false
	}
	return handle, true
}

// CreateEngine 按路径构造引擎
// POST /api/engines {"path": "/data/app/x.apk"}
func (h *EngineHandler) CreateEngine(c *gin.Context) {
	var req createEngineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "缺少 path 参数",
		})
		return
	}

	handle := h.service.InitFromPath(req.Path)
	if handle == 0 {
		h.logger.WithField("path", req.Path).Warn("Engine construction failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "引擎构造失败",
			"path":  req.Path,
		})
		return
	}

	info, err := h.service.Describe(handle)
	if err != nil {
		// 构造后立即被释放
		c.JSON(http.StatusGone, gin.H{"error": "句柄已释放"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"handle":  handle,
		"dex_num": info.DexNum,
	}).Info("Engine created")

	c.JSON(http.StatusCreated, gin.H{
		"handle":  handle,
		"dex_num": info.DexNum,
	})
}

// ListEngines 获取存活引擎
// GET /api/engines
func (h *EngineHandler) ListEngines(c *gin.Context) {
	engines := h.service.List()
	c.JSON(http.StatusOK, gin.H{
		"engines": engines,
		"total":   len(engines),
	})
}

// GetEngine 获取引擎详情
// GET /api/engines/:handle
func (h *EngineHandler) GetEngine(c *gin.Context) {
	handle, ok := parseHandle(c)
	if !ok {
		return
	}

	info, err := h.service.Describe(handle)
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "句柄不存在"})
			return
		}
		h.logger.WithError(err).Error("Failed to describe engine")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, info)
}

// SetThreads 设置引擎线程数
// PUT /api/engines/:handle/threads {"threads": 4}
func (h *EngineHandler) SetThreads(c *gin.Context) {
	handle, ok := parseHandle(c)
	if !ok {
		return
	}

	var req setThreadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "threads 必须为正整数",
		})
		return
	}

	if err := h.service.SetThreadNum(handle, req.Threads); err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "句柄不存在"})
			return
		}
		h.logger.WithError(err).Error("Failed to set thread num")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "设置失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"handle":  handle,
		"threads": req.Threads,
	})
}

// ReleaseEngine 释放引擎
// DELETE /api/engines/:handle
func (h *EngineHandler) ReleaseEngine(c *gin.Context) {
	handle, ok := parseHandle(c)
	if !ok {
		return
	}

	if _, err := h.service.Describe(handle); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "句柄不存在"})
		return
	}

	h.service.Release(handle)
	h.logger.WithField("handle", handle).Info("Engine released")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"handle":  handle,
	})
}

// Package api serves the HTTP status and control surface of a capture node.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"FaceMocap/engine"
	iface "FaceMocap/interface"
	"FaceMocap/logger"
	"FaceMocap/monitor"
)

type smoothingRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamInterval is how often /ws/features pushes the latest feature set.
var StreamInterval = 50 * time.Millisecond

func NewRouter(ctrl iface.Controller) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		st := ctrl.Status()
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"state":          engine.StateName(st.State),
			"frames":         st.Frames,
			"smoothing":      st.Smoothing,
			"headCalibrated": st.HeadCalibrated,
			"lastFrame":      st.LastFrame,
		}})
	})
	r.GET("/api/features", func(c *gin.Context) {
		latest := ctrl.Latest()
		if latest == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": engine.ErrNoFrame.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": latest})
	})
	r.POST("/api/calibration/facial", func(c *gin.Context) {
		rec, err := ctrl.CalibrateFacial()
		if err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rec})
	})
	r.POST("/api/calibration/head", func(c *gin.Context) {
		rec, err := ctrl.CalibrateHead()
		if err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rec})
	})
	r.POST("/api/calibration/reset", func(c *gin.Context) {
		if err := ctrl.ResetCalibration(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Calibration reset"})
	})
	r.PUT("/api/smoothing", func(c *gin.Context) {
		var req smoothingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl.SetSmoothing(*req.Enabled)
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"enabled": *req.Enabled}})
	})
	r.GET("/ws/features", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 升级失败，不要再写 JSON
			return
		}
		streamFeatures(conn, ctrl)
	})
	r.GET("/metrics", gin.WrapH(monitor.Handler()))
	return r
}

// streamFeatures pushes the latest feature set as a text frame until the peer
// goes away.
func streamFeatures(conn *websocket.Conn, ctrl iface.Controller) {
	defer conn.Close()
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			latest := ctrl.Latest()
			if latest == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(latest); err != nil {
				return
			}
		}
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoFrame), errors.Is(err, engine.ErrNoPose), errors.Is(err, engine.ErrChannelInvalid):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func accessLog() gin.HandlerFunc {
	log := logger.Named("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

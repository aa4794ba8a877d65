package main

import (
	"VisionBridge/bridge"
	iface "VisionBridge/interface"
	"VisionBridge/registry"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type createInstanceRequest struct {
	Model       string   `json:"model"`
	Task        string   `json:"task"`
	Names       []string `json:"names"`
	Confidence  float32  `json:"confidence"`
	Iou         float32  `json:"iou"`
	MaxItems    int      `json:"maxItems"`
	Description string   `json:"description"`
	UseGpu      bool     `json:"useGpu"`
}

func statusFor(err error) int {
	if strings.Contains(err.Error(), "not found") {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// warmUp runs a few throwaway predictions so the GPU path allocates before
// real traffic arrives.
func warmUp(backend iface.Backend, id string) {
	fmt.Println("Using GPU, Warming up for instance", id)
	warmMat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	img := iface.ImageData{
		Data:     warmMat.ToBytes(),
		Width:    int32(warmMat.Cols()),
		Height:   int32(warmMat.Rows()),
		Channels: int32(warmMat.Channels()),
	}
	for i := 0; i < 3; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic during warmup predict:", r)
				}
			}()
			_ = backend.Predict(img)
		}()
	}
	_ = warmMat.Close()
	fmt.Println("Warm up Finished for instance", id)
}

func startHTTPServer(br *bridge.Bridge, reg *registry.Registry, sessions *registry.SessionTable, port int, modelsDir string) {
	r := newRouter(br, reg, sessions, modelsDir)
	_ = r.Run(fmt.Sprintf(":%d", port))
}

func newRouter(br *bridge.Bridge, reg *registry.Registry, sessions *registry.SessionTable, modelsDir string) *gin.Engine {
	r := gin.Default()

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.POST("/api/instances", func(c *gin.Context) {
		var req createInstanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		created, err := br.Call(ctx, "createInstance", map[string]any{"description": req.Description})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		id := created["instanceId"].(string)
		payload := map[string]any{
			"instanceId": id,
			"model":      req.Model,
			"task":       req.Task,
			"confidence": req.Confidence,
			"iou":        req.Iou,
			"maxItems":   req.MaxItems,
			"useGpu":     req.UseGpu,
		}
		if req.Names != nil {
			payload["names"] = req.Names
		}
		loaded, err := br.Call(ctx, "loadModel", payload)
		if err != nil {
			reg.Remove(id)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.UseGpu {
			if h, ok := reg.Get(id); ok {
				warmUp(h.Backend, id)
			}
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"instanceId": id,
			"config":     loaded,
		}})
	})

	r.GET("/api/instances", func(c *gin.Context) {
		resp, err := br.Call(c.Request.Context(), "listInstances", map[string]any{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": resp["instances"]})
	})

	r.GET("/api/instances/:id", func(c *gin.Context) {
		resp, err := br.Call(c.Request.Context(), "checkInstance", map[string]any{"instanceId": c.Param("id")})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": resp})
	})

	r.POST("/api/instances/:id/thresholds", func(c *gin.Context) {
		payload := map[string]any{}
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload["instanceId"] = c.Param("id")
		resp, err := br.Call(c.Request.Context(), "setThresholds", payload)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": resp})
	})

	r.DELETE("/api/instances/:id", func(c *gin.Context) {
		_, err := br.Call(c.Request.Context(), "disposeInstance", map[string]any{"instanceId": c.Param("id")})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Instance disposed"})
	})

	r.POST("/api/sessions/alloc", func(c *gin.Context) {
		sess, err := sessions.Alloc()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "All instances are busy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionID":  sess.ID,
			"instanceID": sess.Handle.ID,
			"wsURL":      fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sess.ID),
			"timeoutMs":  sessions.IdleTimeout().Milliseconds(),
		})
	})

	r.POST("/api/sessions/:sessionID/release", func(c *gin.Context) {
		if !sessions.Release(c.Param("sessionID"), "released by caller") {
			c.JSON(404, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(200, gin.H{"data": "Session released"})
	})

	r.GET("/ws/:sessionID", func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		sess, exists := sessions.Get(sessionID)
		if !exists {
			c.JSON(404, gin.H{"error": "Session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// upgrade failed, the response is already gone
			return
		}
		sess.OnClose = func(reason string) {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			_ = conn.Close()
		}
		conn.SetReadLimit(20 * 1024 * 1024)

		sessions.StartIdleMonitor(sess)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				sessions.Release(sessionID, "connection closed")
				fmt.Println("Connection closed for session:", sessionID, "error:", err)
				return
			}
			sess.Touch()
			switch mt {
			case websocket.TextMessage:
				imgBytes, err := bridge.DecodeBase64Image(string(msg))
				if err != nil {
					_ = conn.WriteJSON(gin.H{"success": false, "error": fmt.Sprintf("invalid image: %v", err)})
					continue
				}
				start := time.Now()
				ret, err := bridge.Enqueue(c.Request.Context(), sess.Handle.Backend, imgBytes)
				if err != nil {
					_ = conn.WriteJSON(gin.H{"success": false, "error": err.Error()})
					continue
				}
				_ = conn.WriteJSON(bridge.PredictEnvelope(ret, time.Since(start).Milliseconds()))
			default:
				_ = conn.WriteMessage(websocket.TextMessage, []byte("unsupported message type"))
			}
		}
	})

	r.POST("/api/models/upload", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
			return
		}

		modelPath := filepath.Join(modelsDir, filepath.Base(file.Filename))
		err = c.SaveUploadedFile(file, modelPath)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": modelPath})
	})

	return r
}

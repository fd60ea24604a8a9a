package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SystemInfo is the body of GET /api/status.
type SystemInfo struct {
	Status       string                 `json:"status"`
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	StartTime    time.Time              `json:"start_time"`
	CurrentTime  time.Time              `json:"current_time"`
	GoVersion    string                 `json:"go_version"`
	NumGoroutine int                    `json:"num_goroutine"`
	NumCPU       int                    `json:"num_cpu"`
	DBStatus     string                 `json:"db_status"`
	RedisStatus  string                 `json:"redis_status"`
	Queue        map[string]interface{} `json:"queue,omitempty"`
}

// QueueStats reports message queue depth. *mq.MQAdapter satisfies it.
type QueueStats interface {
	GetQueueStats(ctx context.Context) map[string]interface{}
}

var version = "0.2.0"

type HealthHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	queue     QueueStats
	startTime time.Time
}

// NewHealthHandler builds the handler. redis and queue may be nil.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, queue QueueStats) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, queue: queue, startTime: time.Now()}
}

// HealthCheck handles GET /api/health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SystemStatus handles GET /api/status. A failed database ping turns the
// response into a 503.
func (h *HealthHandler) SystemStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	info := SystemInfo{
		Status:       "ok",
		Version:      version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		StartTime:    h.startTime,
		CurrentTime:  time.Now(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		DBStatus:     "ok",
		RedisStatus:  "disabled",
	}

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		info.DBStatus = "error"
		info.Status = "degraded"
	}

	if h.redis != nil {
		info.RedisStatus = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			info.RedisStatus = "error"
			info.Status = "degraded"
		}
	}

	if h.queue != nil {
		info.Queue = h.queue.GetQueueStats(ctx)
	}

	status := http.StatusOK
	if info.DBStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, info)
}

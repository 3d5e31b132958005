package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"inbound-backend/internal/models"
)

var startTime = time.Now()

// QueueStatus reports the delivery backend in use
type QueueStatus interface {
	Backend() string
	Healthy() bool
}

// HandleSystemMetrics returns a JSON summary of process and resource metrics
func HandleSystemMetrics(db *gorm.DB, queue QueueStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		var domainCount, addressCount, emailCount, pendingDeliveries int64
		dbConnected := false
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				if err := sqlDB.Ping(); err == nil {
					dbConnected = true
				}
			}
			db.Model(&models.EmailDomain{}).Count(&domainCount)
			db.Model(&models.EmailAddress{}).Count(&addressCount)
			db.Model(&models.ReceivedEmail{}).Count(&emailCount)
			db.Model(&models.WebhookDelivery{}).Where("status = ?", models.DeliveryStatusPending).Count(&pendingDeliveries)
		}

		queueInfo := gin.H{"backend": "none", "healthy": false}
		if queue != nil {
			queueInfo = gin.H{"backend": queue.Backend(), "healthy": queue.Healthy()}
		}

		c.JSON(http.StatusOK, gin.H{
			"uptime_seconds":     time.Since(startTime).Seconds(),
			"database_connected": dbConnected,
			"queue":              queueInfo,
			"memory": gin.H{
				"alloc_mb":       m.Alloc / 1024 / 1024,
				"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
				"sys_mb":         m.Sys / 1024 / 1024,
				"gc_runs":        m.NumGC,
			},
			"goroutines": runtime.NumGoroutine(),
			"resources": gin.H{
				"domains":            domainCount,
				"email_addresses":    addressCount,
				"received_emails":    emailCount,
				"pending_deliveries": pendingDeliveries,
			},
			"timestamp": time.Now(),
		})
	}
}

// HandlePrometheusMetrics exposes the default registry in text format
func HandlePrometheusMetrics() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

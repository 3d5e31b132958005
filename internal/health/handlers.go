package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const serviceName = "inbound-api"

var startTime = time.Now()

// Dependency is a backend whose health gates readiness
type Dependency interface {
	Backend() string
	Healthy() bool
}

// HandleHealthCheck returns basic liveness
func HandleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}

// HandleSystemReady reports readiness of the database and delivery queue
func HandleSystemReady(db *gorm.DB, queue Dependency) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbReady := false
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				if err := sqlDB.PingContext(c.Request.Context()); err == nil {
					dbReady = true
				}
			}
		}

		queueReady := queue != nil && queue.Healthy()
		queueInfo := gin.H{"ready": queueReady}
		if queue != nil {
			queueInfo["backend"] = queue.Backend()
		}

		status := http.StatusOK
		if !dbReady || !queueReady {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"ready":    dbReady && queueReady,
			"database": dbReady,
			"queue":    queueInfo,
			"service":  serviceName,
		})
	}
}

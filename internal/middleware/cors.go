package middleware

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"

	"inbound-backend/internal/logging"
)

var log = logging.WithComponent("middleware")

var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:8080",
}

// CORSConfig builds the CORS policy from the configured origins. Invalid
// origins are skipped; a wildcard is refused in production.
func CORSConfig(origins []string, production bool) (cors.Config, error) {
	config := cors.DefaultConfig()

	var allowed []string
	for _, origin := range origins {
		if err := validateCORSOrigin(origin); err != nil {
			log.WithError(err).WithField("origin", origin).Warn("skipping invalid CORS origin")
			continue
		}
		if origin == "*" && production {
			return config, fmt.Errorf("wildcard CORS origin is not allowed in production")
		}
		allowed = append(allowed, origin)
	}

	if !production {
		for _, origin := range devOrigins {
			if !containsString(allowed, origin) {
				allowed = append(allowed, origin)
			}
		}
	}

	if len(allowed) == 0 {
		log.Warn("no CORS origins configured, browser access is disabled")
		config.AllowOriginFunc = func(string) bool { return false }
	} else if containsString(allowed, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowed
		config.AllowCredentials = true
	}

	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	config.ExposeHeaders = []string{"Content-Length", "Content-Type", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	config.MaxAge = 12 * time.Hour

	log.WithField("origins", len(allowed)).Info("✅ CORS configured")
	return config, nil
}

func validateCORSOrigin(origin string) error {
	if origin == "*" {
		return nil
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme: %s (must be http or https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host in origin")
	}
	return nil
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

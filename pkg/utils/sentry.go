package utils

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// CaptureSentryError reports err, or message when err is nil. With a request
// context the event carries the route and the authenticated user.
func CaptureSentryError(c *gin.Context, err error, message string, extras map[string]interface{}) {
	if err == nil && message == "" {
		return
	}
	hub := hubFor(c)
	if hub == nil {
		return
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("service", "inbound-backend")
		if c != nil {
			tagRequest(scope, c)
		}
		if message != "" {
			scope.SetExtra("context", message)
		}
		for k, v := range extras {
			scope.SetExtra(k, v)
		}

		if err != nil {
			hub.CaptureException(err)
			return
		}
		hub.CaptureMessage(message)
	})
}

// CaptureSentryPanic reports a panic recovered in a background goroutine
// (delivery workers, the domain verifier, limiter cleanup).
func CaptureSentryPanic(location string, recovered interface{}) {
	if recovered == nil {
		return
	}
	hub := sentry.CurrentHub()
	if hub == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("service", "inbound-backend")
		scope.SetTag("goroutine", location)
		scope.SetExtra("panic_value", fmt.Sprint(recovered))
		hub.CaptureException(fmt.Errorf("panic recovered in %s: %v", location, recovered))
	})
}

func hubFor(c *gin.Context) *sentry.Hub {
	if c != nil {
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			return hub
		}
	}
	return sentry.CurrentHub()
}

func tagRequest(scope *sentry.Scope, c *gin.Context) {
	scope.SetTag("http.method", c.Request.Method)
	scope.SetTag("http.route", c.FullPath())
	if method := c.GetString("auth_method"); method != "" {
		scope.SetTag("auth.method", method)
	}
	if userID := c.GetString("user_id"); userID != "" {
		scope.SetUser(sentry.User{ID: userID, IPAddress: GetClientIP(c)})
	}
	scope.SetExtra("request_url", c.Request.URL.String())
}

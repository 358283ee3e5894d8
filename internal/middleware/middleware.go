// Package middleware provides Gin middleware functions for the Strategos API.
// It includes request ids, request logging, rate limiting, and panic recovery.
package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates the caller's X-Request-ID or assigns a new
// one, and stores it in the context under "request_id".
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// LoggingMiddleware returns a Gin middleware handler that logs request and
// response metadata including method, path, status code, latency, and client IP.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		bodySize := c.Writer.Size()

		if query != "" {
			path = path + "?" + query
		}

		switch {
		case statusCode >= 500:
			log.Printf("[ERROR] %s %s | %d | %v | %s | %d bytes | errors: %s",
				method, path, statusCode, latency, clientIP, bodySize, c.Errors.ByType(gin.ErrorTypePrivate).String())
		case statusCode >= 400:
			log.Printf("[WARN]  %s %s | %d | %v | %s | %d bytes",
				method, path, statusCode, latency, clientIP, bodySize)
		default:
			log.Printf("[INFO]  %s %s | %d | %v | %s | %d bytes",
				method, path, statusCode, latency, clientIP, bodySize)
		}
	}
}

// RateLimiter is implemented by pkg/cache on top of Redis.
type RateLimiter interface {
	RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// RateLimitMiddleware returns a Gin middleware handler that enforces per-caller
// fixed-window rate limiting. Callers are identified by API key when one is
// sent, otherwise by IP. A nil limiter or a non-positive maximum disables
// the check; limiter errors fail open.
func RateLimitMiddleware(limiter RateLimiter, maxRequests int64, window time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if limiter == nil || maxRequests <= 0 {
			ctx.Next()
			return
		}

		callerID := ctx.GetHeader("X-API-Key")
		if callerID == "" {
			callerID = strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		}
		if callerID == "" {
			callerID = ctx.ClientIP()
		}

		// Use only the first 16 chars of a key for privacy in Redis.
		if len(callerID) > 16 {
			callerID = callerID[:16]
		}

		allowed, err := limiter.RateLimitCheck(ctx.Request.Context(), callerID, maxRequests, window)
		if err != nil {
			log.Printf("middleware: rate limit check error: %v", err)
			ctx.Next()
			return
		}

		if !allowed {
			ctx.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			ctx.Abort()
			return
		}

		ctx.Next()
	}
}

// RecoveryMiddleware returns a Gin middleware that recovers from panics
// and returns a 500 error instead of crashing the server.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] recovered from panic: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred.",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

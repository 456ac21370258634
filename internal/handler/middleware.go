// internal/handler/middleware.go
package handler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deposit-service/internal/metrics"
	"deposit-service/pkg/response"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type contextKey string

const ContextUserID contextKey = "userID"

// maxWebhookBody caps notification bodies.
const maxWebhookBody = 2 << 20

func GetUserID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextUserID).(string)
	return val, ok && val != ""
}

// Claims is the bearer token payload. The caller id is read from uid and
// falls back to sub.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// ============================================================================
// AUTH
// ============================================================================

// BearerAuth validates an HS256 bearer token and stores the caller id in the
// request context.
func BearerAuth(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Error(w, http.StatusUnauthorized, "Unauthorized: Missing or invalid token")
				return
			}
			tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			claims := new(Claims)
			token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				logger.Debug("bearer token rejected", zap.Error(err))
				response.Error(w, http.StatusUnauthorized, "Unauthorized: Missing or invalid token")
				return
			}

			uid := claims.UserID
			if uid == "" {
				uid = claims.Subject
			}
			if uid == "" {
				response.Error(w, http.StatusUnauthorized, "Unauthorized: Missing or invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextUserID, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WebhookSignature checks x-signature == keccak256(body || secret), hex with
// 0x prefix. The body is restored for the next handler.
func WebhookSignature(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Signature")))
			if provided == "" {
				logger.Warn("webhook without signature", zap.String("remote_addr", r.RemoteAddr))
				response.Error(w, http.StatusUnauthorized, "Signature not provided")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				response.Error(w, http.StatusBadRequest, "Failed to read payload")
				return
			}

			expected := WebhookDigest(body, secret)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				logger.Warn("webhook signature mismatch", zap.String("remote_addr", r.RemoteAddr))
				response.Error(w, http.StatusUnauthorized, "Invalid Signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookDigest is the signature the watch feed sends for body.
func WebhookDigest(body []byte, secret string) string {
	return crypto.Keccak256Hash(body, []byte(secret)).Hex()
}

// ============================================================================
// RATE LIMIT
// ============================================================================

// RateLimiter is a fixed-window limiter in redis. Clients over the limit are
// blocked for blockDuration. Redis failures let traffic through.
func RateLimiter(rdb redis.Cmdable, limit int, window, blockDuration time.Duration, keyPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rdb == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var clientID string
			if uid, ok := GetUserID(ctx); ok {
				clientID = "uid:" + uid
			} else {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				clientID = "ip:" + host
			}

			key := keyPrefix + ":" + clientID
			blockKey := key + ":blocked"

			if blocked, _ := rdb.Get(ctx, blockKey).Result(); blocked == "1" {
				ttl, _ := rdb.TTL(ctx, blockKey).Result()
				w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
				response.Error(w, http.StatusTooManyRequests, "Too Many Requests. Try again in "+ttl.String())
				return
			}

			count, err := rdb.Incr(ctx, key).Result()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				rdb.Expire(ctx, key, window)
			}

			if count > int64(limit) {
				rdb.Set(ctx, blockKey, "1", blockDuration)
				w.Header().Set("Retry-After", strconv.Itoa(int(blockDuration.Seconds())))
				response.Error(w, http.StatusTooManyRequests, "Too Many Requests. Blocked for "+blockDuration.String())
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// LOGGING
// ============================================================================

// LoggerMiddleware logs HTTP requests and records their latency.
func LoggerMiddleware(logger *zap.Logger, m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			took := time.Since(start)
			m.ObserveHTTP(route, strconv.Itoa(ww.Status()), took)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", took),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}

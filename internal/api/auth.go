package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ctxKeyDevice is the context key for the authenticated device ID.
const ctxKeyDevice contextKey = "device_id"

// errNoToken is returned when the Authorization header is missing or malformed.
var errNoToken = errors.New("missing bearer token")

// IssueDeviceToken signs an HS256 device token whose subject is deviceID.
// A zero ttl issues a token without expiry.
func IssueDeviceToken(secret, issuer, deviceID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("device auth secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  deviceID,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// deviceAuthMiddleware requires a valid device token when
// security.device_auth is enabled and stores its subject in the context.
// Handlers compare it against the device the request is for.
func (s *Server) deviceAuthMiddleware(next http.Handler) http.Handler {
	if !s.authCfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID, err := s.authenticateDevice(r)
		if err != nil {
			s.logger.Warn("device authentication failed",
				"path", r.URL.Path,
				"request_id", r.Context().Value(ctxKeyRequestID),
				"error", err)
			writeUnauthorized(w, "invalid or missing device token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyDevice, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticateDevice(r *http.Request) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", errNoToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.authCfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.authCfg.Issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(s.authCfg.Secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// authorizeDevice reports whether the request may act for deviceID,
// writing a 403 if not. With auth disabled every device is allowed.
func (s *Server) authorizeDevice(w http.ResponseWriter, r *http.Request, deviceID string) bool {
	if !s.authCfg.Enabled {
		return true
	}
	subject, _ := r.Context().Value(ctxKeyDevice).(string)
	if subject != deviceID {
		writeForbidden(w, fmt.Sprintf("token is not valid for device %q", deviceID))
		return false
	}
	return true
}

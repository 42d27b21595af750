package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated admin identity.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (s *Server) makeToken(username string) (string, error) {
	ttl := s.Cfg.Admin.TokenTTLMin
	if ttl <= 0 {
		ttl = 1440
	}
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttl) * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.Cfg.Admin.JWTSecret))
}

func (s *Server) parseToken(tk string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tk, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(s.Cfg.Admin.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// AuthRequired parses "Authorization: Bearer <token>".
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claims, err := s.parseToken(strings.TrimSpace(auth[7:]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("username", claims.Username)
		c.Next()
	}
}

// POST /api/login {username,password}
func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := strings.TrimSpace(req.Username)
	p := strings.TrimSpace(req.Password)
	if u == "" || p == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username/password required"})
		return
	}

	ip := c.ClientIP()
	if s.Guard != nil {
		if ok, retry := s.Guard.Allow(ip, u); !ok {
			if retry > 0 {
				c.Header("Retry-After", fmt.Sprintf("%.0f", retry.Seconds()))
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, try later"})
			return
		}
	}

	// One deliberately vague failure answer, so responses don't reveal
	// which of the two fields was wrong.
	userOK := subtle.ConstantTimeCompare([]byte(u), []byte(s.Cfg.Admin.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(p), []byte(s.Cfg.Admin.Password)) == 1
	if !userOK || !passOK {
		if s.Guard != nil {
			s.Guard.Fail(ip, u)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login failed, please check username and password"})
		return
	}

	tk, err := s.makeToken(u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.Guard != nil {
		s.Guard.Success(ip, u)
	}
	c.JSON(http.StatusOK, gin.H{"token": tk, "user": gin.H{"username": u}})
}

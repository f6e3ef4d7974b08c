package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"rollbook-server-go/db"
	"rollbook-server-go/models"
)

const teacherKey = "teacher"

// TeacherClaims are the claims of the bearer token issued by the auth
// provider. The teacher id is the subject; some providers put it in user_id.
type TeacherClaims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// IdentityMiddleware resolves the signed-in teacher. A request without an
// Authorization header proceeds as the anonymous teacher: reads come back
// empty and writes are refused. A header that does not hold a valid token
// is rejected.
func IdentityMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Set(teacherKey, models.Teacher{})
			c.Next()
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims := &TeacherClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		id := claims.Subject
		if id == "" {
			id = claims.UserID
		}
		if !db.ValidKey(id) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		c.Set(teacherKey, models.Teacher{ID: id})
		c.Next()
	}
}

// teacher returns the identity resolved by IdentityMiddleware.
func teacher(c *gin.Context) models.Teacher {
	if v, ok := c.Get(teacherKey); ok {
		if t, ok := v.(models.Teacher); ok {
			return t
		}
	}
	return models.Teacher{}
}

// IssueToken signs a token for teacherID, valid for ttl. Used by the demo
// seed and tests; production tokens come from the auth provider.
func IssueToken(secret, teacherID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TeacherClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   teacherID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// CORSMiddleware allows the browser client on another origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

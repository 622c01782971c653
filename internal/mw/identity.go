package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Headers set by the authenticating gateway in front of this service.
const (
	StudentIDHeader = "X-Student-ID"
	AdminIDHeader   = "X-Admin-ID"
)

const (
	studentKey = "mw.student_id"
	adminKey   = "mw.admin_id"
)

// RequireStudent rejects requests that carry no student identity.
func RequireStudent() gin.HandlerFunc {
	return require(StudentIDHeader, studentKey)
}

// RequireAdmin rejects requests that carry no administrator identity.
func RequireAdmin() gin.HandlerFunc {
	return require(AdminIDHeader, adminKey)
}

func require(header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(header))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": header + " header is required",
				"code":  "UNAUTHENTICATED",
			})
			return
		}
		c.Set(key, id)
		c.Next()
	}
}

// StudentID returns the identity set by RequireStudent.
func StudentID(c *gin.Context) string {
	return c.GetString(studentKey)
}

// AdminID returns the identity set by RequireAdmin.
func AdminID(c *gin.Context) string {
	return c.GetString(adminKey)
}

package middleware

import (
    "net/http"
    "runtime/debug"

    "github.com/gin-gonic/gin"
)

// Recovery converts handler panics into a 500 response. A panic must never
// take the enforcement path down with it. verbose adds stacktraces and
// sanitized request metadata for debugging.
func Recovery(verbose bool) gin.HandlerFunc {
    return func(c *gin.Context) {
        defer func() {
            if r := recover(); r != nil {
                entry := GetRequestLogger(c).WithField("client", c.ClientIP())
                if verbose {
                    entry.WithFields(map[string]interface{}{
                        "method":  c.Request.Method,
                        "path":    SanitizePath(c.Request.URL.Path),
                        "headers": SanitizeHeaders(c.Request.Header),
                    }).Errorf("PANIC: %v\nStacktrace:\n%s", r, debug.Stack())
                } else {
                    entry.Errorf("PANIC: %v", r)
                }
                c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
            }
        }()
        c.Next()
    }
}

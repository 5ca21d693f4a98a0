package middleware

import (
    "github.com/gin-gonic/gin"
    "github.com/google/uuid"
    "github.com/sirupsen/logrus"

    "github.com/perimeterd/perimeter/internal/logger"
)

const RequestIDKey = "requestID"
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id for log correlation. An inbound
// X-Request-ID is reused only when it parses as a UUID; anything else is
// attacker-controlled text and gets replaced.
func RequestID() gin.HandlerFunc {
    return func(c *gin.Context) {
        rid := c.GetHeader(RequestIDHeader)
        if _, err := uuid.Parse(rid); err != nil {
            rid = uuid.New().String()
        }
        c.Set(RequestIDKey, rid)
        c.Writer.Header().Set(RequestIDHeader, rid)
        c.Set("logger", logger.WithField("request_id", rid))
        c.Next()
    }
}

// GetRequestLogger retrieves the request-scoped logger from context, falling
// back to the global logger.
func GetRequestLogger(c *gin.Context) *logrus.Entry {
    if v, ok := c.Get("logger"); ok {
        if entry, ok := v.(*logrus.Entry); ok {
            return entry
        }
    }
    return logger.Log()
}

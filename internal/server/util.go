package server

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizeBase turns a configured base path into "" or "/x/y".
func sanitizeBase(bp string) string {
	bp = path.Clean("/" + strings.TrimSpace(bp))
	if bp == "/" {
		return ""
	}
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

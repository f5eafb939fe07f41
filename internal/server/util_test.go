package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeBase(t *testing.T) {
	for in, want := range map[string]string{
		"":          "",
		"/":         "",
		"admin":     "/admin",
		"/admin/":   "/admin",
		" admin ":   "/admin",
		"/a/b/":     "/a/b",
		"//admin//": "/admin",
	} {
		assert.Equal(t, want, sanitizeBase(in), "input %q", in)
	}
}

func TestWriteJSONSetsContentType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/q", func(c *gin.Context) { writeJSON(c, 202, errorResp{Error: "busy"}) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/q", nil))
	assert.Equal(t, 202, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"busy"}`, rec.Body.String())
}

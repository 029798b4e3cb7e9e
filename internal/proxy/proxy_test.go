package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gatekeeper/internal/tenancy"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Create a mock upstream server
	upstreamServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "", r.Header.Get("Authorization"), "bearer token must not be forwarded")
		assert.Equal(t, "org-from-token", r.Header.Get("x-org-id"))
		assert.Equal(t, "/base/api/customers/42", r.URL.Path)
		assert.Equal(t, "expand=true", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "OK")
	}))
	defer upstreamServer.Close()

	upstream, err := New(upstreamServer.URL+"/base", nil)
	require.NoError(t, err)

	router := gin.New()
	router.Any("/api/*path", func(c *gin.Context) {
		tenancy.SetOrgID(c, "org-from-token")
		c.Next()
	}, upstream.Handler())

	req, _ := http.NewRequest(http.MethodGet, "/api/customers/42?expand=true", nil)
	req.Header.Set("Authorization", "Bearer client-token")
	req.Header.Set("x-org-id", "org-from-client")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestUpstream_BadGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	upstream, err := New(deadURL, nil)
	require.NoError(t, err)

	router := gin.New()
	router.Any("/api/*path", upstream.Handler())

	req, _ := http.NewRequest(http.MethodGet, "/api/customers", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("http://\x7f.com", nil)
	assert.Error(t, err)

	_, err = New("not-a-url", nil)
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Any("/api/*path", Unavailable())

	req, _ := http.NewRequest(http.MethodPost, "/api/messages", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

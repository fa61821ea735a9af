package featureflags

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnabled(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, Enabled("tracing", r))
	assert.False(t, Enabled("tracing", nil))

	r.AddCookie(&http.Cookie{Name: "tracing", Value: "1"})
	assert.True(t, Enabled("tracing", r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Feature-Flags", "other, tracing")
	assert.True(t, Enabled("tracing", r))

	assert.False(t, Enabled("unknown", r))

	t.Setenv("FF_UNKNOWN", "1")
	assert.True(t, Enabled("unknown", nil))
}

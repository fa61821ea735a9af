package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/linkinlog/rxprefs/store"
)

func TestSetupExportsStoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	shutdown, err := Setup(context.Background(), reg)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	s := store.New("telemetry", store.WithTelemetry(true))
	require.NoError(t, s.Edit().Put("k", store.Int(1)).Commit(context.Background()))
	_, _ = s.Get("k")

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "prefs_commits") {
			found = true
		}
	}
	assert.True(t, found, "commit counter not exported")
}

package instrumentation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/authserve/go-oauth2-server/instrumentation"
)

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := instrumentation.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAuthorizationStarted(ctx, "client-1")
	m.RecordCodeIssued(ctx, "client-1")
	m.RecordTokenIssued(ctx, "client-1", "authorization_code")
	m.RecordIntrospection(ctx, true)
	m.RecordHTTPRequest(ctx, "POST", "/oauth2/v1/token", 200, 12.5)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics[0].Metrics {
		names[sm.Name] = true
	}
	assert.True(t, names["authserver.authorization.started"])
	assert.True(t, names["authserver.code.issued"])
	assert.True(t, names["authserver.token.issued"])
	assert.True(t, names["authserver.token.introspected"])
	assert.True(t, names["authserver.http.requests.total"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *instrumentation.Metrics

	ctx := context.Background()
	m.RecordAuthorizationStarted(ctx, "client-1")
	m.RecordTokenIssued(ctx, "client-1", "refresh_token")
	m.RecordCodeReuseDetected(ctx)
	m.RecordHTTPRequest(ctx, "GET", "/oauth2/v1/jwks", 200, 1.0)
}

package gitprovider

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/model"
)

func immediateRetrier() *Retrier {
	return &Retrier{
		maxAttempts: DefaultMaxAttempts,
		delay:       func(int) time.Duration { return 0 },
		recorder:    metrics.NewNoop(),
	}
}

func newTestProvider(t *testing.T, srv *httptest.Server, platform model.Platform, creds Credentials) Provider {
	t.Helper()
	f := NewFactory("codeup.example.com", slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewNoop(),
		WithHTTPClient(srv.Client()),
		WithAllowPrivateHosts(true),
		WithRetrier(immediateRetrier()),
	)
	if creds.APIKey == "" {
		creds.APIKey = "tok"
	}
	creds.BaseURL = srv.URL
	p, err := f.New(platform, creds)
	require.NoError(t, err)
	return p
}

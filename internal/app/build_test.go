package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/pacedchat/internal/chunker"
	"github.com/ent0n29/pacedchat/internal/config"
	"github.com/ent0n29/pacedchat/internal/reveal"
)

func testConfig(mode, url string) config.Config {
	return config.Config{
		MetricsNamespace:         fmt.Sprintf("pacedchat_test_app_%d", time.Now().UnixNano()),
		SessionInactivityTimeout: time.Minute,
		BackendMode:              mode,
		BackendURL:               url,
		BackendTimeout:           time.Second,
		ChatUsername:             "demo",
		ChatAgentID:              1,
		Chunking:                 chunker.DefaultOptions(),
		Pacing:                   reveal.DefaultPacing(),
	}
}

func TestBuildResolvesBackendMode(t *testing.T) {
	built, err := Build(testConfig("auto", ""))
	require.NoError(t, err)
	require.Equal(t, "mock", built.BackendMode)

	built, err = Build(testConfig("auto", "http://localhost:8000/chats"))
	require.NoError(t, err)
	require.Equal(t, "http", built.BackendMode)

	_, err = Build(testConfig("http", ""))
	require.Error(t, err)
}

func TestBuildWiresSessionsToConversations(t *testing.T) {
	built, err := Build(testConfig("mock", ""))
	require.NoError(t, err)

	s := built.Sessions.Create("alice")
	conv, err := built.Sessions.Chat(s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, conv.SessionID())

	require.NoError(t, built.Cleanup())
	require.Zero(t, built.Sessions.ActiveCount())
}

func TestBuildHealthReportsResolvedMode(t *testing.T) {
	for _, tc := range []struct {
		mode, url, want string
	}{
		{"auto", "", "mock"},
		{"auto", "http://localhost:8000/chats", "http"},
		{"mock", "http://localhost:8000/chats", "mock"},
	} {
		built, err := Build(testConfig(tc.mode, tc.url))
		require.NoError(t, err)

		for _, path := range []string{"/healthz", "/readyz"} {
			rec := httptest.NewRecorder()
			built.API.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var payload map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
			require.Equal(t, tc.want, payload["backend_mode"], "%s with mode=%q url=%q", path, tc.mode, tc.url)
		}
		require.NoError(t, built.Cleanup())
	}
}

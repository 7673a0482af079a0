package channel

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillbot/internal/domain"
)

func getJSON(t *testing.T, url string, header http.Header, into any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func postTurn(t *testing.T, url, body string, header http.Header) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthAndReady(t *testing.T) {
	_, srv := newTestServer(t, newTestApp(t), nil)

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil, &health))
	assert.Equal(t, "ok", health["status"])
	assert.NotEmpty(t, health["version"])

	var ready map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/readyz", nil, &ready))
	assert.Equal(t, "ready", ready["status"])
}

func TestDiscoveryEndpoints(t *testing.T) {
	a := newTestApp(t)
	_, srv := newTestServer(t, a, nil)

	var skills struct {
		Skills []domain.SkillMetadata `json:"skills"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/skills", nil, &skills))
	ids := make([]string, 0, len(skills.Skills))
	for _, s := range skills.Skills {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, "workflow:account-crud")
	assert.Contains(t, ids, domain.SkillHelp)

	var domains struct {
		Domains []domain.DomainInfo `json:"domains"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/domains", nil, &domains))
	require.NotEmpty(t, domains.Domains)
	assert.Equal(t, "sales", domains.Domains[0].Name)

	var schemas struct {
		Schemas []map[string]any `json:"schemas"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/schemas", nil, &schemas))
	assert.Len(t, schemas.Schemas, len(a.Catalog.Schemas()))
}

func TestAPIKeyRequired(t *testing.T) {
	_, srv := newTestServer(t, newTestApp(t), func(c *ServerConfig) { c.APIKey = "secret-key" })

	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv.URL+"/api/skills", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, srv.URL+"/api/skills",
		http.Header{"Authorization": {"Bearer wrong"}}, nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/skills",
		http.Header{"Authorization": {"Bearer secret-key"}}, nil))

	// health stays public
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil, nil))
}

func TestPostTurnAndReadConversation(t *testing.T) {
	_, srv := newTestServer(t, newTestApp(t), nil)

	status, body := postTurn(t, srv.URL+"/api/conversations/rest-1/turns",
		`{"type":"chat","content":"create an account named Acme"}`, http.Header{"X-User-ID": {"u1"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "rest-1", body["conversationId"])
	assert.NotEmpty(t, body["reply"])

	events, ok := body["events"].([]any)
	require.True(t, ok)
	var types []string
	for _, ev := range events {
		types = append(types, ev.(map[string]any)["type"].(string))
	}
	assert.NotContains(t, types, domain.EventWelcome)
	assert.Contains(t, types, domain.EventMessageAdded)
	assert.Contains(t, types, domain.EventSkillResult)

	var conv map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/conversations/rest-1", nil, &conv))
	assert.Equal(t, "u1", conv["userId"])
	assert.Equal(t, "create an account named Acme", conv["title"])
	assert.Len(t, conv["messages"], 2)
}

func TestUnknownConversationIsNotFound(t *testing.T) {
	_, srv := newTestServer(t, newTestApp(t), nil)
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/conversations/nope", nil, nil))
}

func TestPostTurnRejectsBadInput(t *testing.T) {
	_, srv := newTestServer(t, newTestApp(t), nil)
	url := srv.URL + "/api/conversations/bad/turns"

	for _, body := range []string{`not json`, `{"type":"dance"}`, `{"type":"chat"}`, `{"type":"skill"}`} {
		status, out := postTurn(t, url, body, nil)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.NotEmpty(t, out["message"], body)
	}
}

func TestWebhookSignature(t *testing.T) {
	_, srv := newTestServer(t, newTestApp(t), func(c *ServerConfig) { c.WebhookSecret = "hook" })
	url := srv.URL + "/api/conversations/signed/turns"
	body := `{"content":"hello"}`

	status, _ := postTurn(t, url, body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = postTurn(t, url, body, http.Header{"X-Signature-256": {"sha256=deadbeef"}})
	assert.Equal(t, http.StatusForbidden, status)

	mac := hmac.New(sha256.New, []byte("hook"))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	status, out := postTurn(t, url, body, http.Header{"X-Signature-256": {sig}})
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, out["reply"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, newTestApp(t), nil)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDecodeTurn(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    domain.InboundTurn
		wantErr string
	}{
		{name: "missing type is chat", input: `{"content":"hi"}`, want: domain.InboundTurn{Type: domain.TurnChat, Content: "hi"}},
		{name: "message alias", input: `{"type":"chat","message":"hi"}`, want: domain.InboundTurn{Type: domain.TurnChat, Message: "hi"}},
		{name: "skill", input: `{"type":"skill","skillId":"help"}`, want: domain.InboundTurn{Type: domain.TurnSkill, SkillID: "help"}},
		{name: "blank chat", input: `{"type":"chat","content":"  "}`, wantErr: "content is required"},
		{name: "skill without id", input: `{"type":"skill"}`, wantErr: "skillId is required"},
		{name: "unknown type", input: `{"type":"ping"}`, wantErr: "unsupported message type"},
		{name: "malformed", input: `{`, wantErr: "invalid message format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeTurn([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

package engine

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHandlerEvaluateSingle(t *testing.T) {
	srv := newTestServer(t, managerFixture())

	var decision EffectivePermission
	code := getJSON(t, srv.URL+"/permissions/42/effective/payroll.view", &decision)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decision.IsGranted)
	assert.Equal(t, "payroll.view", decision.PermissionCode)
	assert.Equal(t, SourceRole, decision.WinningSource.Type)
}

func TestHandlerEvaluateAll(t *testing.T) {
	f := managerFixture()
	f.asg.directs = []assignments.DirectAssignment{
		{ID: 9, UserID: 42, PermissionCode: "reports.run", GrantedAt: baseTime.Add(-time.Hour)},
	}
	srv := newTestServer(t, f)

	var body struct {
		UserID      int64                 `json:"userId"`
		Permissions []EffectivePermission `json:"permissions"`
	}
	code := getJSON(t, srv.URL+"/permissions/42/effective", &body)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 42, body.UserID)
	require.Len(t, body.Permissions, 2)
	assert.Equal(t, "payroll.view", body.Permissions[0].PermissionCode)
}

func TestHandlerEvaluateAtTimestamp(t *testing.T) {
	f := managerFixture()
	srv := newTestServer(t, f)

	// Before the role membership began the default deny applies.
	early := baseTime.Add(-60 * 24 * time.Hour).Format(time.RFC3339)
	var decision EffectivePermission
	code := getJSON(t, srv.URL+"/permissions/42/effective/payroll.view?at="+early, &decision)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decision.IsGranted)
	assert.Equal(t, SourceDefault, decision.WinningSource.Type)
}

func TestHandlerExplainTree(t *testing.T) {
	f := managerFixture()
	f.asg.overrides = []assignments.Override{
		{ID: 1, UserID: 42, PermissionCode: "payroll.view", Decision: assignments.DecisionDeny,
			Priority: 10, Scope: assignments.ScopeGlobal, CreatedAt: baseTime.Add(-time.Hour)},
	}
	srv := newTestServer(t, f)

	var node InheritanceNode
	code := getJSON(t, srv.URL+"/permissions/42/explain/payroll.view", &node)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, SourceOverride, node.SourceType)
	assert.Equal(t, DecisionDeny, node.Decision)
	require.Len(t, node.Children, 1)
	assert.Equal(t, DecisionInherit, node.Children[0].Decision)
}

func TestHandlerRejectsBadParams(t *testing.T) {
	srv := newTestServer(t, managerFixture())

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/permissions/not-a-number/effective", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/permissions/42/effective/payroll.view?at=yesterday", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/permissions/99/effective/payroll.view", nil))
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/observability"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/proctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const apiPrefix = "/api/bulk-purchasing"

type envelope[T any] struct {
	Data  T            `json:"data"`
	Error errorPayload `json:"error"`
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *proctest.Harness) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := proctest.New(t)

	s := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{}, nil),
		Cfg:        cfg,
		Log:        zap.NewNop(),
		Catalog:    config.NewStaticCatalogHolder(config.DefaultCatalog()),
		Membership: h.Membership,
		Ledger:     h.Ledger,
		Lifecycle:  h.Lifecycle,
		Directory:  h.Directory,
		Activity:   h.Activity,
	})
	return s, h
}

type call struct {
	method string
	path   string
	body   any
	header map[string]string
}

func (s *Server) serve(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func as(userID string) map[string]string {
	return map[string]string{HeaderUserID: userID}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createGroupBody() map[string]any {
	return map[string]any{
		"name":                  "Kisumu Roofing Pool",
		"description":           "Iron sheets for the lakeside estate",
		"material_category":     "roofing",
		"location":              "Kisumu",
		"target_quantity":       500,
		"target_price_per_unit": 9.5,
		"discount_percentage":   10,
		"min_participants":      2,
		"max_participants":      5,
		"order_deadline":        proctest.Epoch.Add(7 * 24 * time.Hour).Format(time.RFC3339),
		"supplier_info":         map[string]any{"name": "Mabati Rolling Mills", "phone": "+254700000000"},
	}
}

func TestGroupFlowOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})

	w := s.serve(t, call{http.MethodPost, apiPrefix, createGroupBody(), as(proctest.Creator)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[domain.Snapshot](t, w)
	groupPath := apiPrefix + "/" + created.Data.Group.ID.String()
	assert.Equal(t, "roofing", created.Data.Group.MaterialCategory)
	require.NotNil(t, created.Data.Group.Supplier())
	assert.Equal(t, "Mabati Rolling Mills", created.Data.Group.Supplier().Name)

	w = s.serve(t, call{http.MethodPost, groupPath + "/join", map[string]any{"message": "two roofs"}, as("u1")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	joined := decode[domain.Snapshot](t, w)
	pending, ok := joined.Data.LiveMembership("u1")
	require.True(t, ok)
	assert.Equal(t, domain.MembershipStatusPending, pending.Status)

	w = s.serve(t, call{http.MethodPost, groupPath + "/members/" + pending.ID.String() + "/approve", nil, as("u1")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.serve(t, call{http.MethodPost, groupPath + "/members/" + pending.ID.String() + "/approve", nil, as(proctest.Creator)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[domain.Snapshot](t, w).Data.Statistics.ActiveMembers)

	w = s.serve(t, call{http.MethodPost, groupPath + "/materials", map[string]any{
		"material_name": "Box profile 30g",
		"quantity":      40,
		"unit":          "sheet",
		"unit_price":    8.25,
	}, as("u1")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	withLine := decode[domain.Snapshot](t, w)
	require.Len(t, withLine.Data.OrderLines, 1)
	assert.Equal(t, 330.0, withLine.Data.OrderLines[0].TotalPrice)

	w = s.serve(t, call{http.MethodGet, groupPath + "/materials?page_size=10", nil, nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[listMaterialsResponse](t, w)
	assert.Len(t, page.Data.Materials, 1)
	assert.False(t, page.Data.HasMore)

	w = s.serve(t, call{http.MethodGet, groupPath, nil, as("u1")})
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[domain.GroupDetail](t, w)
	require.NotNil(t, detail.Data.UserMembership)
	assert.Equal(t, domain.MembershipStatusApproved, detail.Data.UserMembership.Status)

	w = s.serve(t, call{http.MethodPost, groupPath + "/advance", nil, as(proctest.Creator)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.serve(t, call{http.MethodPost, groupPath + "/process-orders", nil, as(proctest.Creator)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.GroupStatusProcessing, decode[domain.Snapshot](t, w).Data.Group.Status)

	w = s.serve(t, call{http.MethodPost, groupPath + "/materials", map[string]any{
		"material_name": "Ridge caps",
		"quantity":      5,
		"unit":          "piece",
		"unit_price":    3,
	}, as("u1")})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "group_closed", decode[any](t, w).Error.Code)

	w = s.serve(t, call{http.MethodPost, groupPath + "/join", nil, as("late")})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "group_not_joinable", decode[any](t, w).Error.Code)

	w = s.serve(t, call{http.MethodPost, groupPath + "/complete", nil, as(proctest.Creator)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.GroupStatusCompleted, decode[domain.Snapshot](t, w).Data.Group.Status)

	w = s.serve(t, call{http.MethodGet, groupPath + "/activity?action=group.transitioned", nil, nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	trail := decode[auditdomain.ListActivityResponse](t, w)
	require.Len(t, trail.Data.Activity, 3)
	assert.Equal(t, "COMPLETED", trail.Data.Activity[2].Metadata["to"])
}

func TestSystemIdentityIsReserved(t *testing.T) {
	s, h := newTestServer(t, config.Config{})
	ctx := context.Background()
	group := h.CreateGroup(t, 1, 5)
	groupID := group.Group.ID
	_, err := h.Lifecycle.AdvanceToCollecting(ctx, groupID, proctest.Creator)
	require.NoError(t, err)
	_, err = h.Lifecycle.ProcessOrders(ctx, groupID, proctest.Creator)
	require.NoError(t, err)
	groupPath := apiPrefix + "/" + groupID.String()

	w := s.serve(t, call{http.MethodPost, groupPath + "/complete", nil, as(domain.SystemActor)})
	assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	w = s.serve(t, call{http.MethodPost, groupPath + "/complete", nil, as("random-outsider")})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	w = s.serve(t, call{http.MethodPost, apiPrefix, createGroupBody(), as(domain.SystemActor)})
	assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	current, err := h.Store.Snapshot(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, domain.GroupStatusProcessing, current.Group.Status)
}

func TestEvaluateEndpointsRequireModerator(t *testing.T) {
	s, h := newTestServer(t, config.Config{})
	group := h.CreateGroup(t, 2, 5)
	groupID := group.Group.ID
	h.Admit(t, groupID, "u1")
	groupPath := apiPrefix + "/" + groupID.String()

	for _, path := range []string{"/evaluate-quorum", "/evaluate-deadline"} {
		w := s.serve(t, call{http.MethodPost, groupPath + path, nil, as("u1")})
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		w = s.serve(t, call{http.MethodPost, groupPath + path, nil, as("outsider")})
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}

	w := s.serve(t, call{http.MethodPost, groupPath + "/evaluate-quorum", nil, as(proctest.Creator)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.GroupStatusCollecting, decode[domain.Snapshot](t, w).Data.Group.Status)
}

func TestErrorResponses(t *testing.T) {
	s, h := newTestServer(t, config.Config{})
	group := h.CreateGroup(t, 2, 5)
	groupPath := apiPrefix + "/" + group.Group.ID.String()
	h.Admit(t, group.Group.ID, "u1")

	cases := []struct {
		name   string
		call   call
		status int
		typ    string
		code   string
	}{
		{"anonymous write", call{http.MethodPost, groupPath + "/join", nil, nil}, http.StatusUnauthorized, "unauthorized", ""},
		{"unknown group", call{http.MethodGet, apiPrefix + "/4242", nil, nil}, http.StatusNotFound, "not_found", "group_not_found"},
		{"unknown group activity", call{http.MethodGet, apiPrefix + "/4242/activity", nil, nil}, http.StatusNotFound, "not_found", "group_not_found"},
		{"malformed id", call{http.MethodGet, apiPrefix + "/abc", nil, nil}, http.StatusNotFound, "not_found", ""},
		{"bad quantity", call{http.MethodPost, groupPath + "/materials", map[string]any{"material_name": "Cement", "quantity": -1, "unit": "bag", "unit_price": 1}, as("u1")}, http.StatusBadRequest, "validation_error", ""},
		{"malformed body", call{http.MethodPost, groupPath + "/materials", "not an object", as("u1")}, http.StatusBadRequest, "validation_error", ""},
		{"already member", call{http.MethodPost, groupPath + "/join", nil, as("u1")}, http.StatusConflict, "conflict", "already_member"},
		{"quorum guard", call{http.MethodPost, groupPath + "/process-orders", nil, as(proctest.Creator)}, http.StatusConflict, "conflict", "invalid_transition"},
		{"creator leaves", call{http.MethodPost, groupPath + "/leave", nil, as(proctest.Creator)}, http.StatusForbidden, "forbidden", "creator_cannot_leave"},
		{"bad page token", call{http.MethodGet, apiPrefix + "?page_token=!!!", nil, nil}, http.StatusBadRequest, "validation_error", ""},
		{"bad status filter", call{http.MethodGet, apiPrefix + "?status=archived", nil, nil}, http.StatusBadRequest, "validation_error", ""},
		{"bad only_available", call{http.MethodGet, apiPrefix + "?only_available=maybe", nil, nil}, http.StatusBadRequest, "validation_error", ""},
		{"bad deadline", call{http.MethodPost, apiPrefix, map[string]any{"name": "x", "order_deadline": "soon"}, as("u9")}, http.StatusBadRequest, "validation_error", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.serve(t, tc.call)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			resp := decode[any](t, w)
			assert.Equal(t, tc.typ, resp.Error.Type)
			if tc.code != "" {
				assert.Equal(t, tc.code, resp.Error.Code)
			}
		})
	}
}

func TestValidationErrorsNameTheField(t *testing.T) {
	s, h := newTestServer(t, config.Config{})
	group := h.CreateGroup(t, 1, 5)

	w := s.serve(t, call{http.MethodPost, apiPrefix + "/" + group.Group.ID.String() + "/materials", map[string]any{
		"material_name": "Cement",
		"quantity":      0,
		"unit":          "bag",
		"unit_price":    1,
	}, as(proctest.Creator)})

	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[any](t, w)
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "quantity", resp.Error.Errors[0].Field)
	assert.Equal(t, "invalid_quantity", resp.Error.Errors[0].Code)
}

func TestDirectoryEndpoints(t *testing.T) {
	s, h := newTestServer(t, config.Config{})
	mine := h.CreateGroup(t, 1, 2)
	h.Admit(t, mine.Group.ID, "u1")

	w := s.serve(t, call{http.MethodGet, apiPrefix + "/categories", nil, nil})
	require.Equal(t, http.StatusOK, w.Code)
	categories := decode[[]config.Category](t, w)
	assert.NotEmpty(t, categories.Data)

	w = s.serve(t, call{http.MethodGet, apiPrefix + "?only_available=true", nil, nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode[domain.ListGroupsResponse](t, w).Data.Groups)

	w = s.serve(t, call{http.MethodGet, apiPrefix + "?material_category=cement", nil, nil})
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[domain.ListGroupsResponse](t, w)
	require.Len(t, listed.Data.Groups, 1)
	assert.True(t, listed.Data.Groups[0].IsFull)

	w = s.serve(t, call{http.MethodGet, apiPrefix + "/mine", nil, nil})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.serve(t, call{http.MethodGet, apiPrefix + "/mine", nil, as("u1")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[domain.ListGroupsResponse](t, w).Data.Groups, 1)
}

func TestBearerTokens(t *testing.T) {
	const secret = "test-secret"
	s, _ := newTestServer(t, config.Config{AuthJWTSecret: secret})

	token, err := IssueToken(secret, proctest.Creator, time.Hour, time.Now())
	require.NoError(t, err)
	expired, err := IssueToken(secret, proctest.Creator, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", proctest.Creator, time.Hour, time.Now())
	require.NoError(t, err)
	reserved, err := IssueToken(secret, domain.SystemActor, time.Hour, time.Now())
	require.NoError(t, err)

	cases := []struct {
		name   string
		header map[string]string
		status int
	}{
		{"valid", map[string]string{"Authorization": "Bearer " + token}, http.StatusCreated},
		{"header ignored", as(proctest.Creator), http.StatusUnauthorized},
		{"expired", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized},
		{"wrong secret", map[string]string{"Authorization": "Bearer " + forged}, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic " + token}, http.StatusUnauthorized},
		{"reserved subject", map[string]string{"Authorization": "Bearer " + reserved}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.serve(t, call{http.MethodPost, apiPrefix, createGroupBody(), tc.header})
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestMapErrorKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidPrice, http.StatusBadRequest},
		{domain.ErrInvalidState, http.StatusBadRequest},
		{domain.ErrOrderLineNotFound, http.StatusNotFound},
		{domain.ErrNotApproved, http.StatusForbidden},
		{domain.ErrConcurrentUpdate, http.StatusConflict},
		{domain.ErrSnapshotInconsistent, http.StatusInternalServerError},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		status, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}

	_, payload := mapError(domain.ErrLockUnavailable)
	assert.Equal(t, "group_lock_unavailable", payload.Code)
	assert.Equal(t, "group is busy, retry the request", payload.Message)
}

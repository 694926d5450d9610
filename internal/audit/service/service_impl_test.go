package service_test

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	procdomain "github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/proctest"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivity_RecordsCommittedChanges(t *testing.T) {
	h := proctest.New(t)
	ctx := context.Background()
	group := h.CreateGroup(t, 2, 5)
	groupID := group.Group.ID

	h.Admit(t, groupID, "u1")
	_, err := h.Lifecycle.AdvanceToCollecting(ctx, groupID, proctest.Creator)
	require.NoError(t, err)

	resp, err := h.Activity.List(ctx, auditdomain.ListActivityRequest{GroupID: groupID})
	require.NoError(t, err)
	require.Len(t, resp.Activity, 3)
	assert.False(t, resp.HasMore)

	requested, decided, advanced := resp.Activity[0], resp.Activity[1], resp.Activity[2]
	assert.Equal(t, string(procdomain.EventMembershipRequested), requested.Action)
	assert.Equal(t, auditdomain.ActorTypeUser, requested.ActorType)
	require.NotNil(t, requested.SubjectID)
	assert.Equal(t, "u1", *requested.SubjectID)

	assert.Equal(t, string(procdomain.EventMembershipDecided), decided.Action)
	require.NotNil(t, decided.ActorID)
	assert.Equal(t, proctest.Creator, *decided.ActorID)
	assert.Equal(t, "APPROVED", decided.Metadata["decision"])

	assert.Equal(t, string(procdomain.EventGroupTransitioned), advanced.Action)
	assert.Equal(t, "OPEN", advanced.Metadata["from"])
	assert.Equal(t, "COLLECTING", advanced.Metadata["to"])
	assert.True(t, advanced.CreatedAt.Equal(proctest.Epoch))
}

func TestActivity_SystemTransitions(t *testing.T) {
	h := proctest.New(t)
	ctx := context.Background()
	group := h.CreateGroup(t, 3, 5)

	h.Clock.Advance(8 * 24 * time.Hour)
	_, err := h.Lifecycle.EvaluateDeadline(ctx, group.Group.ID)
	require.NoError(t, err)

	resp, err := h.Activity.List(ctx, auditdomain.ListActivityRequest{
		GroupID: group.Group.ID,
		Action:  string(procdomain.EventGroupTransitioned),
	})
	require.NoError(t, err)
	require.Len(t, resp.Activity, 1)
	entry := resp.Activity[0]
	assert.Equal(t, auditdomain.ActorTypeSystem, entry.ActorType)
	assert.Equal(t, "CANCELLED", entry.Metadata["to"])
	assert.NotEmpty(t, entry.Metadata["reason"])
}

func TestActivity_Pages(t *testing.T) {
	h := proctest.New(t)
	ctx := context.Background()
	group := h.CreateGroup(t, 1, 10)
	for _, user := range []string{"u1", "u2", "u3"} {
		h.Admit(t, group.Group.ID, user)
	}

	var seen []string
	req := auditdomain.ListActivityRequest{GroupID: group.Group.ID}
	req.PageSize = 4
	for {
		resp, err := h.Activity.List(ctx, req)
		require.NoError(t, err)
		for _, entry := range resp.Activity {
			seen = append(seen, entry.ID.String())
		}
		if !resp.HasMore {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	assert.Len(t, seen, 6)
}

func TestActivity_RejectsBadRequests(t *testing.T) {
	h := proctest.New(t)
	ctx := context.Background()

	_, err := h.Activity.List(ctx, auditdomain.ListActivityRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidGroup)

	req := auditdomain.ListActivityRequest{GroupID: 42}
	req.PageToken = "%%%"
	_, err = h.Activity.List(ctx, req)
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)

	err = h.Activity.Publish(ctx, procdomain.Event{Type: procdomain.EventGroupTransitioned})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidGroup)
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
)

type joinGroupRequest struct {
	Message string `json:"message"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) JoinGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req joinGroupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.membership.RequestJoin(c.Request.Context(), domain.JoinRequest{
		GroupID: groupID,
		UserID:  actorID(c),
		Message: req.Message,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) LeaveGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	respondSnapshot(c)(s.membership.Leave(c.Request.Context(), groupID, actorID(c)))
}

func (s *Server) ApproveMember(c *gin.Context) {
	s.decide(c, true)
}

func (s *Server) RejectMember(c *gin.Context) {
	s.decide(c, false)
}

func (s *Server) decide(c *gin.Context, approve bool) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "memberId")
	if !ok {
		return
	}

	respondSnapshot(c)(s.membership.Decide(c.Request.Context(), domain.DecideRequest{
		GroupID:      groupID,
		MembershipID: memberID,
		DeciderID:    actorID(c),
		Approve:      approve,
	}))
}

func (s *Server) RemoveMember(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "memberId")
	if !ok {
		return
	}

	respondSnapshot(c)(s.membership.Remove(c.Request.Context(), domain.RemoveRequest{
		GroupID:      groupID,
		MembershipID: memberID,
		ActorID:      actorID(c),
	}))
}

func (s *Server) AssignMemberRole(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "memberId")
	if !ok {
		return
	}

	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	respondSnapshot(c)(s.membership.AssignRole(c.Request.Context(), domain.AssignRoleRequest{
		GroupID:      groupID,
		MembershipID: memberID,
		ActorID:      actorID(c),
		Role:         domain.Role(strings.ToUpper(strings.TrimSpace(req.Role))),
	}))
}

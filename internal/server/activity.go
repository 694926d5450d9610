package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
)

func (s *Server) ListActivity(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var query struct {
		pagination.Pagination
		Action string `form:"action"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Unknown groups answer 404 rather than an empty trail.
	if _, err := s.directory.Get(c.Request.Context(), groupID, ""); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.activity.List(c.Request.Context(), auditdomain.ListActivityRequest{
		Pagination: query.Pagination,
		GroupID:    groupID,
		Action:     query.Action,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

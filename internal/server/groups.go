package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
)

type createGroupRequest struct {
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	MaterialCategory   string               `json:"material_category"`
	Location           string               `json:"location"`
	TargetQuantity     float64              `json:"target_quantity"`
	TargetPricePerUnit float64              `json:"target_price_per_unit"`
	DiscountPercentage float64              `json:"discount_percentage"`
	MinParticipants    int                  `json:"min_participants"`
	MaxParticipants    int                  `json:"max_participants"`
	OrderDeadline      string               `json:"order_deadline"`
	DeliveryDate       *string              `json:"delivery_date"`
	SupplierInfo       *domain.SupplierInfo `json:"supplier_info"`
	Terms              string               `json:"terms"`
}

type cancelGroupRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.catalog.Get().Categories})
}

func (s *Server) ListGroups(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status           string `form:"status"`
		MaterialCategory string `form:"material_category"`
		Location         string `form:"location"`
		MinDiscount      string `form:"min_discount"`
		OnlyAvailable    string `form:"only_available"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	minDiscount, err := parseOptionalFloat(query.MinDiscount)
	if err != nil {
		AbortWithError(c, newValidationError("min_discount", "invalid_min_discount", "invalid min_discount"))
		return
	}
	onlyAvailable, err := parseOptionalBool(query.OnlyAvailable)
	if err != nil {
		AbortWithError(c, newValidationError("only_available", "invalid_only_available", "invalid only_available"))
		return
	}

	resp, err := s.directory.List(c.Request.Context(), domain.ListGroupsRequest{
		Pagination:       query.Pagination,
		Status:           domain.GroupStatus(strings.ToUpper(strings.TrimSpace(query.Status))),
		MaterialCategory: query.MaterialCategory,
		Location:         query.Location,
		MinDiscount:      minDiscount,
		OnlyAvailable:    onlyAvailable,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMyGroups(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.directory.ListMine(c.Request.Context(), domain.ListMyGroupsRequest{
		Pagination: query.Pagination,
		UserID:     actorID(c),
		Status:     domain.GroupStatus(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.directory.Get(c.Request.Context(), groupID, actorID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	deadline, err := parseTime(req.OrderDeadline, true)
	if err != nil {
		AbortWithError(c, domain.ErrInvalidDeadline)
		return
	}
	delivery, err := parseOptionalTime(req.DeliveryDate, false)
	if err != nil {
		AbortWithError(c, domain.ErrInvalidDeliveryDate)
		return
	}

	resp, err := s.lifecycle.CreateGroup(c.Request.Context(), domain.CreateGroupRequest{
		CreatorID:          actorID(c),
		Name:               req.Name,
		Description:        req.Description,
		MaterialCategory:   req.MaterialCategory,
		Location:           req.Location,
		TargetQuantity:     req.TargetQuantity,
		TargetPricePerUnit: req.TargetPricePerUnit,
		DiscountPercentage: req.DiscountPercentage,
		MinParticipants:    req.MinParticipants,
		MaxParticipants:    req.MaxParticipants,
		OrderDeadline:      deadline,
		DeliveryDate:       delivery,
		SupplierInfo:       req.SupplierInfo,
		Terms:              req.Terms,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) AdvanceGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	respondSnapshot(c)(s.lifecycle.AdvanceToCollecting(c.Request.Context(), groupID, actorID(c)))
}

func (s *Server) ProcessOrders(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	respondSnapshot(c)(s.lifecycle.ProcessOrders(c.Request.Context(), groupID, actorID(c)))
}

func (s *Server) CancelGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req cancelGroupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	respondSnapshot(c)(s.lifecycle.Cancel(c.Request.Context(), groupID, actorID(c), req.Reason))
}

func (s *Server) CompleteGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	respondSnapshot(c)(s.lifecycle.Complete(c.Request.Context(), groupID, actorID(c)))
}

func (s *Server) EvaluateDeadline(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	respondSnapshot(c)(s.lifecycle.EvaluateDeadlineAs(c.Request.Context(), groupID, actorID(c)))
}

func (s *Server) EvaluateQuorum(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	respondSnapshot(c)(s.lifecycle.EvaluateQuorumAs(c.Request.Context(), groupID, actorID(c)))
}

// respondSnapshot writes the snapshot of a successful mutation or aborts with its error.
func respondSnapshot(c *gin.Context) func(domain.Snapshot, error) {
	return func(snapshot domain.Snapshot, err error) {
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": snapshot})
	}
}

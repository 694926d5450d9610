package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
)

type addMaterialRequest struct {
	MaterialName   string  `json:"material_name"`
	Specifications string  `json:"specifications"`
	Quantity       float64 `json:"quantity"`
	Unit           string  `json:"unit"`
	UnitPrice      float64 `json:"unit_price"`
	Notes          string  `json:"notes"`
}

type listMaterialsResponse struct {
	pagination.PageInfo
	Materials []domain.OrderLine `json:"materials"`
}

func (s *Server) ListMaterials(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lines, pageInfo, err := s.ledger.ListActivePage(c.Request.Context(), groupID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if lines == nil {
		lines = []domain.OrderLine{}
	}

	c.JSON(http.StatusOK, gin.H{"data": listMaterialsResponse{
		PageInfo:  pageInfo,
		Materials: lines,
	}})
}

func (s *Server) AddMaterial(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req addMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledger.AddOrderLine(c.Request.Context(), domain.AddOrderLineRequest{
		GroupID:        groupID,
		UserID:         actorID(c),
		MaterialName:   req.MaterialName,
		Specifications: req.Specifications,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		UnitPrice:      req.UnitPrice,
		Notes:          req.Notes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) WithdrawMaterial(c *gin.Context) {
	lineID, ok := pathID(c, "lineId")
	if !ok {
		return
	}
	respondSnapshot(c)(s.ledger.WithdrawOrderLine(c.Request.Context(), domain.OrderLineActionRequest{
		OrderLineID: lineID,
		ActorID:     actorID(c),
	}))
}

func (s *Server) ConfirmMaterial(c *gin.Context) {
	lineID, ok := pathID(c, "lineId")
	if !ok {
		return
	}
	respondSnapshot(c)(s.ledger.ConfirmOrderLine(c.Request.Context(), domain.OrderLineActionRequest{
		OrderLineID: lineID,
		ActorID:     actorID(c),
	}))
}

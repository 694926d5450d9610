package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	procdomain "github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
)

type ListActivityRequest struct {
	pagination.Pagination
	GroupID snowflake.ID
	Action  string
}

type ListActivityResponse struct {
	pagination.PageInfo
	Activity []Entry `json:"activity"`
}

// Service keeps the activity trail of every group. It receives committed
// group events as a publisher.
type Service interface {
	procdomain.Publisher
	List(ctx context.Context, req ListActivityRequest) (ListActivityResponse, error)
}

var (
	ErrInvalidGroup  = errors.New("invalid_group")
	ErrInvalidAction = errors.New("invalid_action")
)

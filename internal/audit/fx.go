package audit

import (
	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	"github.com/smallbiznis/bulkbuy/internal/audit/repository"
	"github.com/smallbiznis/bulkbuy/internal/audit/service"
	procdomain "github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(fx.Annotate(
		func(s auditdomain.Service) procdomain.Publisher { return s },
		fx.ResultTags(`group:"procurement_publishers"`),
	)),
)

package procurement

import (
	"github.com/smallbiznis/bulkbuy/internal/procurement/events"
	"github.com/smallbiznis/bulkbuy/internal/procurement/repository"
	"github.com/smallbiznis/bulkbuy/internal/procurement/service"
	"github.com/smallbiznis/bulkbuy/internal/procurement/store"
	"go.uber.org/fx"
)

var Module = fx.Module("procurement",
	fx.Provide(repository.Provide),
	fx.Provide(fx.Annotate(events.NewFromConfig, fx.As(new(store.Notifier)))),
	fx.Provide(store.New),
	fx.Provide(service.NewMembershipService),
	fx.Provide(service.NewLedgerService),
	fx.Provide(service.NewLifecycleService),
	fx.Provide(service.NewDirectoryService),
)

package invoice

import (
	"github.com/smallbiznis/paywatch/internal/invoice/domain"
	"github.com/smallbiznis/paywatch/internal/invoice/repository"
	"github.com/smallbiznis/paywatch/internal/invoice/service"
	"github.com/smallbiznis/paywatch/internal/invoice/store"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		store.New,
		func(s *store.Store) domain.SettlementStore { return s },
	),
)

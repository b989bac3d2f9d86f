package handler

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/estatemarket/internal/service"
)

// base carries what every market handler needs.
type base struct {
	svc    *service.MarketService
	stable common.Address
	logger *slog.Logger
}

func newBase(svc *service.MarketService, stable common.Address, logger *slog.Logger, name string) base {
	return base{svc: svc, stable: stable, logger: logHandler(logger, name)}
}

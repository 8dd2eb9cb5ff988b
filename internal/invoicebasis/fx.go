package invoicebasis

import (
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/repository"
	"github.com/smallbiznis/bygglogg/internal/invoicebasis/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicebasis.service",
	fx.Provide(repository.NewSourceReader),
	fx.Provide(repository.NewSnapshotRepository),
	fx.Provide(service.New),
)

package httpserver

import (
	"github.com/foxseedlab/stagewarden/internal/config"
	"github.com/foxseedlab/stagewarden/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*session.Manager](i)
		return NewServer(cfg.HTTPAddr, manager), nil
	})
}

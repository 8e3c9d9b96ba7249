package session

import (
	"github.com/foxseedlab/stagewarden/internal/config"
	"github.com/foxseedlab/stagewarden/internal/discord"
	"github.com/foxseedlab/stagewarden/internal/repository"
	"github.com/foxseedlab/stagewarden/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		wh := do.MustInvoke[webhook.Sender](i)
		return NewManager(cfg, repo, dc, wh), nil
	})
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"player-backend/internal/app"
	"player-backend/internal/config"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type ServeParams struct {
	Files  []string `pos:"true" optional:"true" help:"Tracks to queue and play on start."`
	Config string   `short:"c" optional:"true" help:"Config file. Defaults to $XDG_CONFIG_HOME/player-backend/config.toml."`
	Engine string   `short:"e" optional:"true" help:"Override the engine: mpv, native or follow."`
}

func ServeCmd() *cobra.Command {
	return boa.CmdT[ServeParams]{
		Use:         "serve",
		Short:       "Run the player and broadcast lyrics over the IPC socket",
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *ServeParams, cmd *cobra.Command, args []string) {
			cfg := config.Load(params.Config)
			if params.Engine != "" {
				cfg.App.Engine = params.Engine
			}
			app.SetupLogging(cfg.App.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create app")
			}

			if len(params.Files) > 0 {
				go func() {
					// Run starts the engine; loading waits for it.
					<-a.Ready()
					if err := a.Play(params.Files...); err != nil {
						log.Error().Err(err).Msg("Failed to start playback")
					}
				}()
			}

			if err := a.Run(ctx); err != nil {
				log.Fatal().Err(err).Msg("App stopped")
			}
		},
	}.ToCobra()
}

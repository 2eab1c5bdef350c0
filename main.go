package main

import (
	"embed"
	"io/fs"

	"github.com/rs/zerolog/log"

	"speech-recorder/internal/bootstrap"
)

//go:embed frontend
var frontend embed.FS

func main() {
	assets, err := fs.Sub(frontend, "frontend")
	if err != nil {
		log.Fatal().Err(err).Msg("frontend assets")
	}

	app, err := bootstrap.NewWithAssets(assets)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap app")
	}

	if err := app.Run(); err != nil {
		log.Fatal().Err(err).Msg("run app")
	}
}

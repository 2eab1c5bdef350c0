// Command app runs the desktop UI against ./frontend on disk, for
// development without rebuilding embedded assets.
package main

import (
	"github.com/rs/zerolog/log"

	"speech-recorder/internal/bootstrap"
)

func main() {
	app, err := bootstrap.New()
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap app")
	}

	if err := app.Run(); err != nil {
		log.Fatal().Err(err).Msg("run app")
	}
}

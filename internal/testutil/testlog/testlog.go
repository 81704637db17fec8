package testlog

import (
	"testing"

	"github.com/GTrannoy/wr-node-core-software-sub001/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Msgf("test=%s", t.Name())
}

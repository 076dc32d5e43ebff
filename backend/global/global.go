package global

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the backend-wide structured logger; initialize replaces it at startup.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

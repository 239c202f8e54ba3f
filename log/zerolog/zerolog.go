package zerolog

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/flashsale"
)

var _ flashsale.Logger = Logger{}

type Logger struct{ L zerolog.Logger }

// New writes JSON lines to w at level.
func New(w io.Writer, level string) (Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return Logger{}, err
	}
	return Logger{L: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}, nil
}

func (z Logger) Debug(msg string, f flashsale.Fields) { z.L.Debug().Fields(map[string]any(f)).Msg(msg) }
func (z Logger) Info(msg string, f flashsale.Fields)  { z.L.Info().Fields(map[string]any(f)).Msg(msg) }
func (z Logger) Warn(msg string, f flashsale.Fields)  { z.L.Warn().Fields(map[string]any(f)).Msg(msg) }
func (z Logger) Error(msg string, f flashsale.Fields) { z.L.Error().Fields(map[string]any(f)).Msg(msg) }

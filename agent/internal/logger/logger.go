package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// L is the agent logger. It writes to stdout until Init runs.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

// Init sends log output to path (appending) or stdout when path is empty.
// An unknown level falls back to info.
func Init(path, level string) error {
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = zerolog.ConsoleWriter{Out: file, NoColor: true}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	L = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

func Info(v ...any)  { L.Info().Msg(fmt.Sprint(v...)) }
func Warn(v ...any)  { L.Warn().Msg(fmt.Sprint(v...)) }
func Error(v ...any) { L.Error().Msg(fmt.Sprint(v...)) }

func Infof(f string, v ...any)  { L.Info().Msgf(f, v...) }
func Warnf(f string, v ...any)  { L.Warn().Msgf(f, v...) }
func Errorf(f string, v ...any) { L.Error().Msgf(f, v...) }

package logging

func Tracef(format string, args ...any) {
	l := Logger()
	l.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	l := Logger()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	l := Logger()
	l.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	l := Logger()
	l.Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	l := Logger()
	l.Error().Msgf(format, args...)
}

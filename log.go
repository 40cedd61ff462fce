package josh

import "log/slog"

var logger = slog.Default()

// SetLogger replaces the logger of the package.
func SetLogger(l *slog.Logger) {
	logger = l
}

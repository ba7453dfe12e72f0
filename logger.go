package evcore

import (
	"os"

	"github.com/zbh255/bilog"
)

// pkgLogger is the default diagnostics sink. Bases accept a
// bilog.Logger override in BaseConfig and fall back to this one.
var pkgLogger bilog.Logger = bilog.NewLogger(os.Stderr, bilog.DEBUG, bilog.WithTimes(), bilog.WithCaller())

func (b *Base) logger() bilog.Logger {
	if b.config.Logger != nil {
		return b.config.Logger
	}
	return pkgLogger
}

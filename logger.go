// Package gemcalib holds the command line helpers shared by the gemcalib
// binaries: repeated flags, axis ticks and the logger.
package gemcalib

import (
	"go.uber.org/zap"
)

// NewLogger returns a JSON production logger, or a console development
// logger at debug level when verbose is set.
func NewLogger(verbose bool) *zap.Logger {
	build := zap.NewProduction
	if verbose {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

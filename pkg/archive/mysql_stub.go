//go:build !mysql

package archive

import (
	"go.uber.org/zap"
)

// OpenMySQL returns a sqlite archive when the mysql build tag is not enabled.
func OpenMySQL(path string, logger *zap.Logger) (Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("mysql archive requested but mysql build tag not enabled; using sqlite archive",
		zap.String("path", path))
	return OpenSQLite(path, logger)
}

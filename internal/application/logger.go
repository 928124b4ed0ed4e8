package application

import (
	"go.uber.org/zap"

	"github.com/vtcode/vtcode/internal/infrastructure/logger"
)

func loggerFromConfig(level, format string) (*zap.Logger, error) {
	return logger.NewLogger(logger.Config{
		Level:  level,
		Format: format,
		// The REPL owns stdout; logs go to stderr.
		OutputPath: "stderr",
	})
}

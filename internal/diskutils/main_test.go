package diskutils

import (
	"os"
	"testing"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

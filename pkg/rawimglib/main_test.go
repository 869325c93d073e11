package rawimglib

import (
	"testing"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	m.Run()
}

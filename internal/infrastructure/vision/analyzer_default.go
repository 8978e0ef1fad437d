//go:build !gocv
// +build !gocv

package vision

import (
	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// Backend имя реализации анализатора в текущей сборке
const Backend = "native"

// NewAnalyzer возвращает анализатор на чистом Go (сборка без тега gocv).
func NewAnalyzer(logger *zap.Logger) port.ShapeAnalyzer {
	return NewNativeAnalyzer(logger)
}

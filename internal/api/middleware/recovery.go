package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"leverage/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Назначение:
// Перехватывает panic в HTTP handlers и предотвращает падение всего сервера.
// Логирует информацию об ошибке и stack trace для отладки.
// Возвращает клиенту корректный HTTP ответ 500 Internal Server Error.
//
// Важность:
// Критически важен для стабильности сервера в production.
// Даже если в коде есть необработанная ошибка, сервер продолжит работу.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"leverage/pkg/crypto"
)

// Учётные данные администратора для защиты registry endpoints.
// Пароль хранится только в виде bcrypt-хеша.
// Загружаются из переменных окружения ADMIN_USERNAME и ADMIN_PASSWORD_HASH.
var (
	adminUsername     = os.Getenv("ADMIN_USERNAME")
	adminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
)

// debugUsername и debugPassword для защиты debug endpoints.
// Загружаются из переменных окружения DEBUG_USERNAME и DEBUG_PASSWORD.
// Если не установлены, debug endpoints будут недоступны в production.
var (
	debugUsername = os.Getenv("DEBUG_USERNAME")
	debugPassword = os.Getenv("DEBUG_PASSWORD")
)

// AdminHashWeak сообщает, что ADMIN_PASSWORD_HASH установлен, но его
// bcrypt cost ниже crypto.DefaultCost. Проверяется один раз на старте,
// чтобы слабый хеш попал в лог, а не остался незамеченным.
func AdminHashWeak() bool {
	return adminPasswordHash != "" && crypto.NeedsRehash(adminPasswordHash, crypto.DefaultCost)
}

// AdminAuth - middleware для защиты административных endpoints
//
// Назначение:
// Защищает управление риск-реестром (PUT/DELETE на /registry/*) от
// неавторизованного доступа. Использует HTTP Basic Authentication.
//
// Конфигурация:
// - ADMIN_USERNAME: имя администратора
// - ADMIN_PASSWORD_HASH: bcrypt-хеш пароля (генерируется через crypto.HashPassword)
// - Если переменные не установлены, в production доступ запрещен (403)
//
// Безопасность:
// - Имя пользователя сравнивается через constant-time сравнение
// - Пароль проверяется через bcrypt, хеш в env вместо открытого пароля
func AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminUsername == "" || adminPasswordHash == "" {
			// В development (если явно не настроено) разрешаем доступ
			if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Admin endpoints disabled. Set ADMIN_USERNAME and ADMIN_PASSWORD_HASH.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Registry admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(adminUsername)) == 1
		passMatch := crypto.CheckPasswordMatch(pass, adminPasswordHash)

		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Registry admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DebugAuth - middleware для защиты debug/pprof endpoints
//
// Назначение:
// Защищает debug endpoints (/debug/pprof/*) от неавторизованного доступа.
// Использует HTTP Basic Authentication для простоты.
//
// Конфигурация:
// - DEBUG_USERNAME: имя пользователя для доступа к debug endpoints
// - DEBUG_PASSWORD: пароль для доступа к debug endpoints
// - Если переменные не установлены, в production доступ запрещен (403)
//
// Безопасность:
// - Использует constant-time сравнение для предотвращения timing attacks
// - В production ОБЯЗАТЕЛЬНО установить DEBUG_USERNAME и DEBUG_PASSWORD
func DebugAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if debugUsername == "" || debugPassword == "" {
			// В development (если явно не настроено) разрешаем доступ
			if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Constant-time сравнение для предотвращения timing attacks
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(debugUsername)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(debugPassword)) == 1

		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// redact скрывает чувствительные значения в логах.
package redact

import "strings"

// Email маскирует локальную часть адреса: "ivan.petrov@mail.ru" -> "iv***@mail.ru".
func Email(s string) string {
	parts := strings.Split(s, "@")
	if len(parts) != 2 {
		return "***"
	}

	local, domain := parts[0], parts[1]
	if len(local) > 2 {
		local = local[:2] + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
func Stamp() string    { return "[REDACTED_STAMP]" }

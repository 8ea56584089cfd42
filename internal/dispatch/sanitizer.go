package dispatch

import (
	"regexp"
	"strings"
)

// Санитайзер контента перед отправкой в AI-шлюз. Это граница безопасности
// содержимого, не корректности: он никогда не ошибается, только переписывает.
// Строки, похожие на инъекцию инструкций, заменяются маркером целиком —
// частичная вырезка оставляет обрезки, которые модель может дособрать.

const redactedMarker = "[redacted]"

// Паттерны инъекций. Набор консервативный: ловим классические попытки
// перехватить инструкции промпта, а не любой подозрительный текст.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|commands?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+|any\s+)?(previous|prior|above|system)\s+(instructions?|rules?|commands?)`),
	regexp.MustCompile(`(?i)forget\s+(everything|all\s+previous|your\s+instructions?)`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(me\s+)?(your|the)\s+(system|original|hidden)\s+(prompt|instructions?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+are|an?\s+unrestricted)`),
	regexp.MustCompile(`\[\/?(SYSTEM|INST)\]`),
	regexp.MustCompile(`<\|im_(start|end)\|>`),
}

func lineSuspicious(line string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// SanitizeText редактирует построчно: подозрительная строка → маркер.
func SanitizeText(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	changed := false
	for i, line := range lines {
		if lineSuspicious(line) {
			lines[i] = redactedMarker
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(lines, "\n")
}

// SanitizeData рекурсивно проходит data-мешок и чистит строковые значения.
// Возвращает новую мапу: входная не мутируется.
func SanitizeData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return SanitizeText(t)
	case map[string]interface{}:
		return SanitizeData(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

package features

// Имена фич, которыми оперирует конфигурация.
// Каждая ветка поведения (подписи, предохранитель, апрувы, санитайзер)
// включается независимо — так тесты могут проверять их по отдельности.
const (
	WebhookSignatures = "webhook_signatures" // HMAC-подпись исходящих вебхуков
	CircuitBreaker    = "circuit_breaker"    // Гейтинг исходящих вызовов по предохранителю
	ApprovalWorkflow  = "approval_workflow"  // Очередь ручных подтверждений (HITL)
	PromptSanitizer   = "prompt_sanitizer"   // Редактирование инъекций перед отправкой в шлюз
	HMACInbound       = "hmac_inbound"       // HMAC-аутентификация входящих хуков
	MCPServer         = "mcp_server"         // MCP-сервер поверх реестра способностей
)

// Flags — инжектируемый объект-возможность (capability object).
// Компоненты не лезут в конфиг напрямую: им передают Flags,
// и в тестах его можно собрать из любой мапы.
type Flags struct {
	enabled map[string]bool
}

func New(enabled map[string]bool) *Flags {
	if enabled == nil {
		enabled = make(map[string]bool)
	}
	return &Flags{enabled: enabled}
}

func (f *Flags) Enabled(name string) bool {
	if f == nil {
		return false
	}
	return f.enabled[name]
}

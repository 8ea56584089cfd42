package dispatch

import "time"

// Известные типы исходящих событий. Список не закрытый: диспетчер
// принимает и ad hoc имена (например, "test").
const (
	EventPostStatusChange  = "post_status_change"
	EventNewComment        = "new_comment"
	EventUserRegister      = "user_register"
	EventWooOrderChange    = "woo_order_change"
	EventPostDelete        = "post_delete"
	EventGovernanceFinding = "governance_finding"
)

// urgentEvents будят агента немедленно; остальное он заберет по heartbeat.
var urgentEvents = map[string]bool{
	EventPostDelete:        true,
	EventWooOrderChange:    true,
	EventGovernanceFinding: true,
}

// Metadata — служебный мешок конверта: исходное событие, origin сайта,
// момент отправки и сырые данные.
type Metadata struct {
	Event     string                 `json:"event"`
	SiteURL   string                 `json:"site_url"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Payload — конверт исходящего вебхука (контракт POST {gateway}/hooks/agent).
type Payload struct {
	Message    string   `json:"message"`
	SessionKey string   `json:"sessionKey"`
	WakeMode   string   `json:"wakeMode"` // "now" либо "queue"
	Channel    string   `json:"channel"`
	Metadata   Metadata `json:"metadata"`
}

// PayloadFilter — точка расширения: может переписать конверт перед отправкой.
type PayloadFilter func(*Payload)

// buildPayload собирает конверт. Ключ сессии детерминированно выводится из
// имени события: все уведомления одного типа попадают в одну сессию агента.
func buildPayload(event, message, siteURL string, data map[string]interface{}, now time.Time) *Payload {
	wake := "queue"
	if urgentEvents[event] {
		wake = "now"
	}
	return &Payload{
		Message:    message,
		SessionKey: "hook:" + event,
		WakeMode:   wake,
		Channel:    "wordpress",
		Metadata: Metadata{
			Event:     event,
			SiteURL:   siteURL,
			Timestamp: now.Unix(),
			Data:      data,
		},
	}
}

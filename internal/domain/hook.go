package domain

// Протокол входящего хука: один POST, поле action выбирает операцию.

// Известные действия.
const (
	ActionPing          = "ping"
	ActionExecute       = "execute_ability"
	ActionExecuteBatch  = "execute_batch"
	ActionRunGovernance = "run_governance"
)

// HookRequest — конверт входящего запроса от шлюза.
type HookRequest struct {
	Action  string                 `json:"action"`
	Ability string                 `json:"ability,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Batch   []BatchItem            `json:"batch,omitempty"`
	Task    string                 `json:"task,omitempty"`     // для run_governance
	TraceID string                 `json:"trace_id,omitempty"` // сквозной идентификатор
}

// BatchItem — один пункт пакетного исполнения.
type BatchItem struct {
	Ability string                 `json:"ability"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// BatchResult — результат одного пункта: либо result, либо error.
type BatchResult struct {
	Ability string                 `json:"ability"`
	OK      bool                   `json:"ok"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

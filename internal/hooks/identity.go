package hooks

import (
	"context"

	"github.com/xela07ax/pinch-bridge/internal/loopguard"
)

type actorKey struct{}

// Actor — от чьего имени исполняется способность. Попадает в аудит.
func Actor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return "unknown"
}

// Identity — исполнительный контекст способностей: имя сервисного
// агента + подавление исходящих вебхуков на время исполнения.
// Подавление снимается на ЛЮБОМ исходе, включая панику хендлера —
// иначе один сбой заглушил бы исходящий канал навсегда.
type Identity struct {
	agentUser string
	guard     *loopguard.Guard
}

func NewIdentity(agentUser string, guard *loopguard.Guard) *Identity {
	if agentUser == "" {
		agentUser = "pinch-agent"
	}
	return &Identity{agentUser: agentUser, guard: guard}
}

func (i *Identity) AgentUser() string { return i.agentUser }

// RunAs исполняет fn под именем агента с активным подавлением петли.
func (i *Identity) RunAs(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx = context.WithValue(ctx, actorKey{}, i.agentUser)
	i.guard.Enter()
	defer i.guard.Exit()
	return fn(ctx)
}

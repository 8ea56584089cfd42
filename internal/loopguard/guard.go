// Package loopguard реализует подавление вебхук-петель.
//
// Сценарий петли: внешний шлюз прислал «обнови пост», мы исполняем, сайт
// генерирует событие post_status_change, диспетчер шлет его обратно в шлюз,
// тот снова реагирует — пинг-понг до бесконечности. Пока флаг взведен,
// диспетчер молча отказывается отправлять что-либо наружу.
package loopguard

import "sync/atomic"

// Guard — счетчик вложенных «исполнений от имени вебхука».
// Счетчик, а не bool: батч исполняет способности последовательно,
// и каждая обрамляется своей парой Enter/Exit.
type Guard struct {
	depth atomic.Int32
}

func New() *Guard {
	return &Guard{}
}

func (g *Guard) Enter() {
	g.depth.Add(1)
}

func (g *Guard) Exit() {
	g.depth.Add(-1)
}

// Active — true, пока хотя бы одно входящее исполнение в полете.
func (g *Guard) Active() bool {
	return g.depth.Load() > 0
}

// With исполняет fn под взведенным флагом. Exit гарантирован defer-ом
// на всех путях выхода, включая панику внутри fn.
func (g *Guard) With(fn func() error) error {
	g.Enter()
	defer g.Exit()
	return fn()
}

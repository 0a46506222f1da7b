package fetcher

import "fmt"

// State 是单次加载所处的阶段。
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
	StateRetrying State = "retrying"
)

// Transition 描述一次状态迁移，Attempt 为当前尝试序号（从 1 开始）。
type Transition struct {
	Source  string
	From    State
	To      State
	Attempt int
	Err     error
}

var allowedTransitions = map[State][]State{
	StateIdle:     {StateLoading},
	StateLoading:  {StateLoaded, StateFailed},
	StateFailed:   {StateRetrying},
	StateRetrying: {StateLoading},
}

// machine 驱动 Idle → Loading → {Loaded | Failed → Retrying → Loading}。
type machine struct {
	source  string
	state   State
	attempt int
	notify  func(Transition)
}

func newMachine(source string, notify func(Transition)) *machine {
	return &machine{source: source, state: StateIdle, notify: notify}
}

func (m *machine) advance(to State, err error) {
	if !canTransition(m.state, to) {
		panic(fmt.Sprintf("fetcher: illegal transition %s -> %s", m.state, to))
	}
	if to == StateLoading {
		m.attempt++
	}
	t := Transition{
		Source:  m.source,
		From:    m.state,
		To:      to,
		Attempt: m.attempt,
		Err:     err,
	}
	m.state = to
	if m.notify != nil {
		m.notify(t)
	}
}

func canTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

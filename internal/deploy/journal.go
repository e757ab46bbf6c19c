package deploy

import (
	"sort"
	"sync"
	"time"
)

// journal is the ordered record of every state change of one deployment.
// Readers follow it by offset and wait on the notify channel.
type journal struct {
	pipeline string

	mu      sync.Mutex
	changes []StateChange
	latest  map[string]State
	holds   int
	notify  chan struct{}
}

func newJournal(pipeline string, instances []string) *journal {
	j := &journal{
		pipeline: pipeline,
		latest:   make(map[string]State, len(instances)),
		notify:   make(chan struct{}),
	}
	for _, name := range instances {
		j.latest[name] = StateUnknown
	}
	return j
}

// record appends a change unless instance is already in state to.
func (j *journal) record(instance string, to State) (StateChange, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	from, ok := j.latest[instance]
	if !ok {
		from = StateUnknown
	}
	if from == to {
		return StateChange{}, false
	}

	change := StateChange{
		Pipeline: j.pipeline,
		Operator: instance,
		From:     from,
		To:       to,
		Seq:      uint64(len(j.changes) + 1),
		At:       time.Now(),
	}
	j.changes = append(j.changes, change)
	j.latest[instance] = to
	j.wake()
	return change, true
}

// hold keeps the journal unsettled while a restart swaps an instance.
func (j *journal) hold() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.holds++
}

func (j *journal) release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.holds--
	j.wake()
}

func (j *journal) wake() {
	close(j.notify)
	j.notify = make(chan struct{})
}

// since returns the changes after offset, a channel closed on the next
// change, and whether every instance is terminal with nothing held.
func (j *journal) since(offset int) ([]StateChange, <-chan struct{}, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []StateChange
	if offset < len(j.changes) {
		out = append(out, j.changes[offset:]...)
	}
	return out, j.notify, j.settledLocked()
}

func (j *journal) settledLocked() bool {
	if j.holds > 0 {
		return false
	}
	for _, s := range j.latest {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

// states returns the latest state of every instance sorted by name.
func (j *journal) states() []InstanceState {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]InstanceState, 0, len(j.latest))
	for name, s := range j.latest {
		out = append(out, InstanceState{Operator: name, State: s})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Operator < out[k].Operator })
	return out
}

func (j *journal) history() []StateChange {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]StateChange(nil), j.changes...)
}

// InstanceState is the latest state of one instance.
type InstanceState struct {
	Operator string `json:"operator"`
	State    State  `json:"state"`
}

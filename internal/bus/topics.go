package bus

// Task store topics.
const (
	TopicTaskCreated = "task.created"
	TopicTaskUpdated = "task.updated"
	TopicTaskDeleted = "task.deleted"
)

// Live state topics.
const (
	TopicElapsedChanged = "state.elapsed_changed"
	TopicPublisherState = "ipc.state_changed"
)

// TaskEvent is published after a task mutation commits.
type TaskEvent struct {
	TaskID       int64
	Name         string
	Pomodoros    int
	Done         bool
	RowsAffected int64 // 0 when an update or delete matched nothing
}

// ElapsedChangedEvent carries the new elapsed value set by the timer layer.
type ElapsedChangedEvent struct {
	Elapsed string
}

// PublisherStateEvent is published on every state publisher transition.
type PublisherStateEvent struct {
	Name   string // well-known bus name
	From   string
	To     string
	Reason string
}

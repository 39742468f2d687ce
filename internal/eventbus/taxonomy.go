package eventbus

// Event type taxonomy (spec §4.5). This is the minimum required set; board
// components may publish additional application-specific types, which
// wildcard subscribers still observe.
const (
	TypeHexStatus         = "hex.status"
	TypeHexProgress       = "hex.progress"
	TypeWorkReceived      = "work.received"
	TypeWorkCompleted     = "work.completed"
	TypeWorkFlowing       = "work.flowing"
	TypeLLMRequest        = "llm.request"
	TypeLLMResponse       = "llm.response"
	TypeFilesystemChanged = "filesystem.changed"
	TypeTasksAvailable    = "tasks.available"
	TypeTaskClaimed       = "task.claimed"
	TypeTaskReleased      = "task.released"
	TypeTaskCompleted     = "task.completed"
	TypeBoardStarted      = "board.started"
	TypeBoardStopped      = "board.stopped"
	TypeEntityUpdated     = "entity.updated"
	TypeBudgetWarning     = "budget.warning"
	TypeBudgetExceeded    = "budget.exceeded"
)

package council

// EventType identifies one lifecycle event of a council run.
type EventType string

const (
	EventStage1Start    EventType = "stage1_start"
	EventStage1Complete EventType = "stage1_complete"
	EventStage2Start    EventType = "stage2_start"
	EventStage2Complete EventType = "stage2_complete"
	EventStage3Start    EventType = "stage3_start"
	EventStage3Complete EventType = "stage3_complete"
	EventTitleComplete  EventType = "title_complete"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Event is one frame of a run's progress stream. For a single run the
// emission order is fixed: stage1_start, stage1_complete, stage2_start,
// stage2_complete, stage3_start, stage3_complete, complete, and optionally
// title_complete; a failed run ends with error instead.
type Event struct {
	Type     EventType   `json:"type"`
	Data     interface{} `json:"data,omitempty"`
	Metadata interface{} `json:"metadata,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// EventSink receives a run's events in emission order. Implementations must
// preserve ordering for a single run; the pipeline publishes from a single
// goroutine so no additional synchronization is required of them.
type EventSink interface {
	Publish(ev Event) error
}

// NopSink discards events. Used by the blocking (non-streaming) interface.
type NopSink struct{}

func (NopSink) Publish(Event) error { return nil }

// State is the pipeline's position in the three-stage state machine.
type State int

const (
	StateIdle State = iota
	StateStage1Running
	StateStage1Done
	StateStage2Running
	StateStage2Done
	StateStage3Running
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStage1Running:
		return "stage1_running"
	case StateStage1Done:
		return "stage1_done"
	case StateStage2Running:
		return "stage2_running"
	case StateStage2Done:
		return "stage2_done"
	case StateStage3Running:
		return "stage3_running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

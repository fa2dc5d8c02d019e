package models

import (
	"encoding/json"
	"fmt"
)

// EventKind is a semantic event classified from a settled file change
type EventKind int

const (
	// TaskStatusChanged fires when a task's status document settles
	TaskStatusChanged EventKind = iota
	// TaskBlueprintChanged fires when a task's blueprint settles
	TaskBlueprintChanged
	// TaskReviewChanged fires when a task's review document settles
	TaskReviewChanged
	// PromptChanged fires when the project-level prompt settles
	PromptChanged
	// ProjectCompleted fires when the completion marker appears or changes
	ProjectCompleted
	// FileChanged covers every other file under the state root
	FileChanged
)

// Wire names of the frames exchanged over the WebSocket
const (
	EventTaskStatus       = "task:status"
	EventTaskBlueprint    = "task:blueprint"
	EventTaskReview       = "task:review"
	EventPromptChanged    = "prompt:changed"
	EventProjectCompleted = "project:completed"
	EventFileChanged      = "file:changed"
	EventProjectState     = "project:state"
	EventError            = "error"
	EventSubscribe        = "subscribe:project"
)

// String returns the wire name of the event kind
func (k EventKind) String() string {
	switch k {
	case TaskStatusChanged:
		return EventTaskStatus
	case TaskBlueprintChanged:
		return EventTaskBlueprint
	case TaskReviewChanged:
		return EventTaskReview
	case PromptChanged:
		return EventPromptChanged
	case ProjectCompleted:
		return EventProjectCompleted
	case FileChanged:
		return EventFileChanged
	default:
		return "unknown"
	}
}

// Event is a semantic event emitted by a project watcher
type Event struct {
	Kind   EventKind
	TaskID string         // task:status, task:blueprint, task:review
	Path   string         // file:changed, relative to the state root
	Status map[string]any // task:status on parse success
	Err    string         // task:status on parse failure
}

// Frame converts the event to its wire frame.
// Unknown kinds are an error so a new kind cannot be silently broadcast.
func (e Event) Frame() (Frame, error) {
	switch e.Kind {
	case TaskStatusChanged:
		data := make(map[string]any, len(e.Status)+1)
		if e.Err != "" {
			data["error"] = e.Err
		} else {
			for k, v := range e.Status {
				data[k] = v
			}
		}
		data["taskId"] = e.TaskID
		return Frame{Event: EventTaskStatus, Data: data}, nil
	case TaskBlueprintChanged:
		return Frame{Event: EventTaskBlueprint, Data: map[string]any{"taskId": e.TaskID}}, nil
	case TaskReviewChanged:
		return Frame{Event: EventTaskReview, Data: map[string]any{"taskId": e.TaskID}}, nil
	case PromptChanged:
		return Frame{Event: EventPromptChanged, Data: map[string]any{}}, nil
	case ProjectCompleted:
		return Frame{Event: EventProjectCompleted, Data: map[string]any{}}, nil
	case FileChanged:
		return Frame{Event: EventFileChanged, Data: map[string]any{"path": e.Path}}, nil
	default:
		return Frame{}, fmt.Errorf("unhandled event kind %d", int(e.Kind))
	}
}

// Frame is one JSON object carried in a WebSocket text frame
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ErrorFrame builds the frame used to report a problem to a client
func ErrorFrame(message string) Frame {
	return Frame{Event: EventError, Data: map[string]string{"message": message}}
}

// Marshal serializes the frame for the wire
func (f Frame) Marshal() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", f.Event, err)
	}
	return data, nil
}

// InboundFrame is a client message; Data is decoded lazily per event
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SubscribeRequest is the payload of a subscribe:project message
type SubscribeRequest struct {
	ProjectPath string `json:"projectPath"`
}

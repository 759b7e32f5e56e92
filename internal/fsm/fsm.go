package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateReady     State = "ready"
	StateAsking    State = "asking"
	StatePreparing State = "preparing"
	StateRecording State = "recording"
	StateUploading State = "uploading"
	StateScoring   State = "scoring"
	StateCompleted State = "completed"
	StateError     State = "error"
)

const (
	EventInit     Event = "init"
	EventAsk      Event = "ask"
	EventPrepare  Event = "prepare"
	EventRecord   Event = "record"
	EventStop     Event = "stop"
	EventUpload   Event = "upload"
	EventUploaded Event = "uploaded"
	EventScored   Event = "scored"
	EventFinish   Event = "finish"
	EventFail     Event = "fail"
	EventRetry    Event = "retry"
)

// Transition applies one event to the attempt lifecycle. EventFail is
// accepted from every state. EventRetry leaves error back to ready; the
// resume edges ready->recording and ready->uploading let a retry re-enter
// the cycle at the last successful boundary instead of replaying the whole
// prompt.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventInit:
			return StateReady, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateReady:
		switch event {
		case EventAsk:
			return StateAsking, nil
		case EventRecord:
			return StateRecording, nil
		case EventUpload:
			return StateUploading, nil
		case EventFinish:
			return StateCompleted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAsking:
		switch event {
		case EventPrepare:
			return StatePreparing, nil
		case EventRecord:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StatePreparing:
		switch event {
		case EventRecord:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateUploading, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateUploading:
		switch event {
		case EventUploaded:
			return StateScoring, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateScoring:
		switch event {
		case EventScored:
			return StateReady, nil
		case EventFinish:
			return StateCompleted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCompleted:
		return current, invalidTransition(current, event)
	case StateError:
		switch event {
		case EventRetry:
			return StateReady, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

package story

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"

	"github.com/joescharf/scrum/internal/apperrors"
	"github.com/joescharf/scrum/internal/models"
)

// Event is a lifecycle event of a user story.
type Event string

const (
	EventStart   Event = "start"
	EventFinish  Event = "finish"
	EventApprove Event = "approve"
	EventReject  Event = "reject"
	EventCancel  Event = "cancel"
)

type lifecycleContext struct {
	StoryID string
}

// newLifecycle builds the story lifecycle machine positioned at from.
//
//	inactive -start-> in_progress -finish-> pending_approval -approve-> approved
//	pending_approval -reject-> in_progress
//	inactive, in_progress, pending_approval, approved -cancel-> cancelled
func newLifecycle(from models.StoryState, storyID string) (*statekit.Interpreter[lifecycleContext], error) {
	inactive := statekit.StateID(models.StateInactive.String())
	inProgress := statekit.StateID(models.StateInProgress.String())
	pending := statekit.StateID(models.StatePendingApproval.String())
	approved := statekit.StateID(models.StateApproved.String())
	cancelled := statekit.StateID(models.StateCancelled.String())

	builder := statekit.NewMachine[lifecycleContext]("user-story").
		WithInitial(statekit.StateID(from.String())).
		WithContext(lifecycleContext{StoryID: storyID}).
		WithGuard("terminal", func(lifecycleContext, statekit.Event) bool { return false })

	builder.State(inactive).
		On(statekit.EventType(EventStart)).Target(inProgress).
		On(statekit.EventType(EventCancel)).Target(cancelled).
		Done()

	builder.State(inProgress).
		On(statekit.EventType(EventFinish)).Target(pending).
		On(statekit.EventType(EventCancel)).Target(cancelled).
		Done()

	builder.State(pending).
		On(statekit.EventType(EventApprove)).Target(approved).
		On(statekit.EventType(EventReject)).Target(inProgress).
		On(statekit.EventType(EventCancel)).Target(cancelled).
		Done()

	builder.State(approved).
		On(statekit.EventType(EventCancel)).Target(cancelled).
		Done()

	// Cancelled accepts no event.
	builder.State(cancelled).
		On(statekit.EventType(EventCancel)).Target(cancelled).Guard("terminal").
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build story lifecycle: %w", err)
	}
	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return interp, nil
}

// Fire applies ev to a story in state from and returns the resulting state.
// An event the state does not accept yields a wrong_state error.
func Fire(from models.StoryState, ev Event, storyID string) (models.StoryState, error) {
	interp, err := newLifecycle(from, storyID)
	if err != nil {
		return from, apperrors.Wrap(apperrors.CodeInternal, err, err.Error())
	}
	before := string(interp.State().Value)
	interp.Send(statekit.Event{Type: statekit.EventType(ev)})
	after := string(interp.State().Value)
	if before == after {
		return from, apperrors.New(apperrors.CodeWrongState, "story %s cannot %s while %s", storyID, ev, from)
	}
	to, err := models.ParseStoryState(after)
	if err != nil {
		return from, apperrors.Wrap(apperrors.CodeInternal, err, err.Error())
	}
	return to, nil
}

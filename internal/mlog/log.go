package mlog

import (
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/procman/procman/persistence"
)

// LogInstanceState logs a message indicating that a process instance has
// entered a new lifecycle state.
func LogInstanceState(
	log logging.Logger,
	inst persistence.Handle,
	id string,
	name string,
	state fmt.Stringer,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				InstanceIcon.WithHandle(inst),
				UUIDIcon.WithID(id),
			},
			[]Icon{
				SystemIcon,
				"",
			},
			name,
			state.String(),
		),
	)
}

// LogNodeState logs a debug message indicating that a node instance has
// entered a new state.
func LogNodeState(
	log logging.Logger,
	inst, node persistence.Handle,
	nodeID string,
	icon Icon,
	state fmt.Stringer,
) {
	if !logging.IsDebug(log) {
		return
	}

	logging.DebugString(
		log,
		String(
			[]IconWithLabel{
				InstanceIcon.WithHandle(inst),
				NodeIcon.WithHandle(node),
			},
			[]Icon{
				icon,
				"",
			},
			nodeID,
			state.String(),
		),
	)
}

// LogJoinArrival logs a debug message indicating that a predecessor has
// completed and arrived at a join.
func LogJoinArrival(
	log logging.Logger,
	inst, join persistence.Handle,
	nodeID string,
	arrived, min int,
	fired bool,
) {
	if !logging.IsDebug(log) {
		return
	}

	status := ""
	if fired {
		status = "fired"
	}

	logging.DebugString(
		log,
		String(
			[]IconWithLabel{
				InstanceIcon.WithHandle(inst),
				NodeIcon.WithHandle(join),
			},
			[]Icon{
				JoinIcon,
				"",
			},
			nodeID,
			fmt.Sprintf("%d of %d required predecessors", arrived, min),
			status,
		),
	)
}

// LogDispatch logs a message indicating the outcome of handing a task to a
// dispatcher.
func LogDispatch(
	log logging.Logger,
	inst, node persistence.Handle,
	nodeID string,
	endpoint string,
	outcome fmt.Stringer,
	err error,
) {
	icon := DispatchIcon
	text := outcome.String()

	if err != nil {
		icon = DispatchErrorIcon
		text = err.Error()
	}

	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				InstanceIcon.WithHandle(inst),
				NodeIcon.WithHandle(node),
			},
			[]Icon{
				icon,
				errorIcon(err),
			},
			nodeID,
			endpoint,
			text,
		),
	)
}

// LogFailure logs a message indicating that a step of the state machine
// failed and was rolled back.
func LogFailure(
	log logging.Logger,
	inst, node persistence.Handle,
	nodeID string,
	cause error,
	f string, v ...interface{},
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				InstanceIcon.WithHandle(inst),
				NodeIcon.WithHandle(node),
			},
			[]Icon{
				SystemIcon,
				ErrorIcon,
			},
			nodeID,
			cause.Error(),
			fmt.Sprintf(f, v...),
		),
	)
}

// LogTickle logs a message indicating that a process instance is being
// re-driven.
func LogTickle(
	log logging.Logger,
	inst persistence.Handle,
	active int,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				InstanceIcon.WithHandle(inst),
				NodeIcon.WithHandle(0),
			},
			[]Icon{
				TickleIcon,
				"",
			},
			fmt.Sprintf("re-driving %d active node instance(s)", active),
		),
	)
}

func errorIcon(err error) Icon {
	if err == nil {
		return ""
	}

	return ErrorIcon
}

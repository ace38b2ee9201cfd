package mlog

import (
	"fmt"
	"io"

	"github.com/dogmatiq/iago/must"
	"github.com/procman/procman/persistence"
)

const (
	// InstanceIcon is the icon shown directly before a process instance
	// handle. It is three horizontal lines, representing the steps in a
	// process.
	InstanceIcon Icon = "≡"

	// NodeIcon is the icon shown directly before a node instance handle. It is
	// the mathematical "member of set" symbol, indicating that the node
	// instance belongs to the displayed process instance.
	NodeIcon Icon = "⋲"

	// UUIDIcon is the icon shown directly before a process instance UUID. It
	// is an "equals sign", indicating that the instance "has exactly" the
	// displayed UUID.
	UUIDIcon Icon = "="

	// CallbackIcon is the icon shown when a node instance changes state
	// because of a call into the engine. It is a downward pointing arrow, as
	// such calls are "inbound" from the activity service.
	CallbackIcon Icon = "▼"

	// DispatchIcon is the icon shown when a task is handed to a dispatcher. It
	// is an upward pointing arrow, as tasks are "outbound" to the activity
	// service.
	DispatchIcon Icon = "▲"

	// DispatchErrorIcon is a variant of DispatchIcon used when the dispatcher
	// fails or rejects a task. It is a hollow version of the regular dispatch
	// icon, indicating that the requirement remains "unfulfilled".
	DispatchErrorIcon Icon = "△"

	// JoinIcon is the icon shown when a log message relates to a join. It is
	// the relational algebra "join" symbol.
	JoinIcon Icon = "⨝"

	// TickleIcon is the icon shown when an instance is re-driven. It is an
	// open-circle with an arrow, indicating that the instance has "come around
	// again".
	TickleIcon Icon = "↻"

	// ErrorIcon is the icon shown when logging information about an error.
	// It is a heavy cross, indicating a failure.
	ErrorIcon Icon = "✖"

	// SystemIcon is an icon shown when a log message relates to the internals
	// of the engine. It is a sprocket, representing the inner workings of the
	// machine.
	SystemIcon Icon = "⚙"

	// SeparatorIcon is an icon used to separate strings of unrelated text
	// inside a log message. It is a large bullet, intended to have a large
	// visual impact.
	SeparatorIcon Icon = "●"
)

// Icon is a unicode symbol used as an icon in log messages.
type Icon string

func (i Icon) String() string {
	return string(i)
}

// WriteTo writes a string representation of the icon to w.
// If i is the zero-value, a single space is rendered.
func (i Icon) WriteTo(w io.Writer) (int64, error) {
	s := i.String()
	if i == "" {
		s = " "
	}

	n, err := io.WriteString(w, s)
	return int64(n), err
}

// WithLabel return an IconWithLabel containing this icon and the given label.
func (i Icon) WithLabel(f string, v ...interface{}) IconWithLabel {
	return IconWithLabel{
		i,
		formatLabel(fmt.Sprintf(f, v...)),
	}
}

// WithHandle returns an IconWithLabel containing this icon and a handle as its
// label. Invalid handles are rendered as a hyphen.
func (i Icon) WithHandle(h persistence.Handle) IconWithLabel {
	if !h.IsValid() {
		return i.WithLabel("")
	}

	return i.WithLabel("%s", h)
}

// WithID return an IconWithLabel containing this icon and an ID as its label.
//
// If the ID appears to be a UUID, only the first 8 characters are shown.
func (i Icon) WithID(id string) IconWithLabel {
	if len(id) == 36 && id[8] == '-' {
		id = id[:8]
	}

	return i.WithLabel("%s", id)
}

// IconWithLabel is a container for an icon and its associated text label.
type IconWithLabel struct {
	Icon  Icon
	Label string
}

func (i IconWithLabel) String() string {
	return i.Icon.String() + " " + i.Label
}

// WriteTo writes a string representation of the icon and its label to w.
func (i IconWithLabel) WriteTo(w io.Writer) (_ int64, err error) {
	defer must.Recover(&err)

	n := must.WriteTo(w, i.Icon)
	n += must.Write(w, space1)
	n += must.WriteString(w, i.Label)

	return int64(n), err
}

// formatLabel formats a label for display.
func formatLabel(label string) string {
	if label == "" {
		return "-"
	}

	return label
}

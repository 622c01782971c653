package lifecycle

import "hostel-allocation-backend/internal/model"

// EventType names a lifecycle transition students are told about.
type EventType string

const (
	EventSubmitted  EventType = "submitted"
	EventApproved   EventType = "approved"
	EventWaitlisted EventType = "waitlisted"
	EventRejected   EventType = "rejected"
	EventRevoked    EventType = "revoked"
	EventWithdrawn  EventType = "withdrawn"
)

// Event describes a committed transition.
type Event struct {
	Type          EventType               `json:"type"`
	ApplicationID string                  `json:"applicationId"`
	StudentID     string                  `json:"studentId"`
	WindowID      string                  `json:"windowId"`
	WindowName    string                  `json:"windowName"`
	Status        model.ApplicationStatus `json:"status"`
	BedID         *int64                  `json:"bedId,omitempty"`
}

// Notifier receives events after their transaction commits. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ev Event) {
	for _, n := range ns {
		n.Notify(ev)
	}
}

func eventFor(app *model.Application, w *model.ApplicationWindow, t EventType) Event {
	ev := Event{
		Type:          t,
		ApplicationID: app.ID,
		StudentID:     app.StudentID,
		WindowID:      app.WindowID,
		Status:        app.Status,
		BedID:         app.AllocatedBed,
	}
	if w != nil {
		ev.WindowName = w.Name
	}
	return ev
}

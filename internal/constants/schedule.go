package constants

// ScheduleStatus is the lifecycle status of a schedule operation.
type ScheduleStatus string

const (
	ScheduleCreating ScheduleStatus = "CREATING"
	ScheduleUpdating ScheduleStatus = "UPDATING"
	ScheduleDeleting ScheduleStatus = "DELETING"
	ScheduleCreated  ScheduleStatus = "CREATED"
	ScheduleUpdated  ScheduleStatus = "UPDATED"
	ScheduleDeleted  ScheduleStatus = "DELETED"
)

// Operation identifies which schedule operation a status or ack belongs to.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Pending returns the in-flight status for op.
func (op Operation) Pending() ScheduleStatus {
	switch op {
	case OperationUpdate:
		return ScheduleUpdating
	case OperationDelete:
		return ScheduleDeleting
	default:
		return ScheduleCreating
	}
}

// Operation returns the operation a status belongs to, or "" when unknown.
func (s ScheduleStatus) Operation() Operation {
	switch s {
	case ScheduleCreating, ScheduleCreated:
		return OperationCreate
	case ScheduleUpdating, ScheduleUpdated:
		return OperationUpdate
	case ScheduleDeleting, ScheduleDeleted:
		return OperationDelete
	}
	return ""
}

// IsCompleted reports whether s is one of the terminal statuses.
func (s ScheduleStatus) IsCompleted() bool {
	return s == ScheduleCreated || s == ScheduleUpdated || s == ScheduleDeleted
}

// Completed maps a pending status to its terminal value. Terminal statuses map
// to themselves.
func (s ScheduleStatus) Completed() ScheduleStatus {
	switch s {
	case ScheduleCreating:
		return ScheduleCreated
	case ScheduleUpdating:
		return ScheduleUpdated
	case ScheduleDeleting:
		return ScheduleDeleted
	}
	return s
}

// InFlight maps a terminal status back to its pending value.
func (s ScheduleStatus) InFlight() ScheduleStatus {
	switch s {
	case ScheduleCreated:
		return ScheduleCreating
	case ScheduleUpdated:
		return ScheduleUpdating
	case ScheduleDeleted:
		return ScheduleDeleting
	}
	return s
}

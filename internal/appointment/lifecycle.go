package appointment

import (
	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type edge struct {
	from, to Status
}

type allowed struct {
	staff, provider, client bool
}

// transitions is the whole lifecycle. Anything missing here is illegal.
var transitions = map[edge]allowed{
	{StatusPending, StatusConfirmed}:   {staff: true, provider: true},
	{StatusPending, StatusCancelled}:   {staff: true, provider: true, client: true},
	{StatusConfirmed, StatusCancelled}: {staff: true, provider: true, client: true},
	{StatusConfirmed, StatusCompleted}: {staff: true, provider: true},
}

// CheckTransition decides whether actor may move appt to `to`. Providers and
// clients only act on their own appointments.
func CheckTransition(actor Actor, appt Appointment, to Status) error {
	const op = "appointment.CheckTransition"

	if appt.Status.Terminal() {
		return apperr.New(apperr.KindTerminalState, op, "appointment is %s", appt.Status)
	}

	rule, ok := transitions[edge{appt.Status, to}]
	if !ok {
		return apperr.New(apperr.KindIllegalTransition, op, "%s -> %s is not allowed", appt.Status, to)
	}

	var permitted bool
	switch {
	case actor.Role.IsStaff():
		permitted = rule.staff
	case actor.Role == RoleProvider:
		permitted = rule.provider && actor.ID == appt.ProviderID
	case actor.Role == RoleClient:
		permitted = rule.client && actor.ID == appt.ClientID
	}
	if !permitted {
		return apperr.New(apperr.KindIllegalTransition, op, "role %s may not move %s -> %s", actor.Role, appt.Status, to)
	}
	return nil
}

// InitialStatus is the status a new booking starts in for the given role.
func InitialStatus(role Role) Status {
	if role == RoleClient {
		return StatusPending
	}
	return StatusConfirmed
}

package appointment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

var allStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled}

func TestCheckTransitionTable(t *testing.T) {
	provider, client := uuid.New(), uuid.New()
	staff := Actor{ID: uuid.New(), Role: RoleReceptionist}
	owner := Actor{ID: provider, Role: RoleProvider}
	otherProvider := Actor{ID: uuid.New(), Role: RoleProvider}
	ownClient := Actor{ID: client, Role: RoleClient}
	otherClient := Actor{ID: uuid.New(), Role: RoleClient}

	tests := []struct {
		name  string
		from  Status
		to    Status
		actor Actor
		kind  apperr.Kind
	}{
		{"staff confirms", StatusPending, StatusConfirmed, staff, ""},
		{"owner confirms", StatusPending, StatusConfirmed, owner, ""},
		{"other provider confirms", StatusPending, StatusConfirmed, otherProvider, apperr.KindIllegalTransition},
		{"client confirms", StatusPending, StatusConfirmed, ownClient, apperr.KindIllegalTransition},
		{"client cancels pending", StatusPending, StatusCancelled, ownClient, ""},
		{"client cancels confirmed", StatusConfirmed, StatusCancelled, ownClient, ""},
		{"other client cancels", StatusConfirmed, StatusCancelled, otherClient, apperr.KindIllegalTransition},
		{"owner completes", StatusConfirmed, StatusCompleted, owner, ""},
		{"staff completes", StatusConfirmed, StatusCompleted, staff, ""},
		{"client completes", StatusConfirmed, StatusCompleted, ownClient, apperr.KindIllegalTransition},
		{"complete from pending", StatusPending, StatusCompleted, staff, apperr.KindIllegalTransition},
		{"back to pending", StatusConfirmed, StatusPending, staff, apperr.KindIllegalTransition},
		{"cancel cancelled", StatusCancelled, StatusCancelled, staff, apperr.KindTerminalState},
		{"reopen completed", StatusCompleted, StatusConfirmed, staff, apperr.KindTerminalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appt := Appointment{ProviderID: provider, ClientID: client, Status: tt.from}
			err := CheckTransition(tt.actor, appt, tt.to)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestEveryEdgeOutsideTableIsRejected(t *testing.T) {
	admin := Actor{ID: uuid.New(), Role: RoleTenantAdmin}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			err := CheckTransition(admin, Appointment{Status: from}, to)
			_, inTable := transitions[edge{from, to}]
			switch {
			case from.Terminal():
				assert.ErrorIs(t, err, apperr.ErrTerminalState, "%s -> %s", from, to)
			case inTable:
				assert.NoError(t, err, "%s -> %s", from, to)
			default:
				assert.ErrorIs(t, err, apperr.ErrIllegalTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, StatusPending, InitialStatus(RoleClient))
	assert.Equal(t, StatusConfirmed, InitialStatus(RoleStaff))
	assert.Equal(t, StatusConfirmed, InitialStatus(RoleProvider))
}

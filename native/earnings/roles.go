package earnings

import (
	"github.com/ethereum/go-ethereum/common"

	"earnescrow/core/events"
	"earnescrow/core/state"
)

const roleOwner = "owner"

// RoleRegistry holds the owner, admin and exchange slots of one escrow
// instance. The owner is fixed at construction; admin is managed by the owner
// and exchange by the admin.
type RoleRegistry struct {
	state    *state.Manager
	instance common.Address
}

// NewRoleRegistry binds a registry to the instance address.
func NewRoleRegistry(st *state.Manager, instance common.Address) *RoleRegistry {
	return &RoleRegistry{state: st, instance: instance}
}

func (r *RoleRegistry) get(role string) (common.Address, error) {
	if r == nil || r.state == nil {
		return common.Address{}, errNilState
	}
	return r.state.Role(r.instance, role)
}

// Owner returns the owner identity.
func (r *RoleRegistry) Owner() (common.Address, error) { return r.get(roleOwner) }

// Admin returns the admin identity or the zero address.
func (r *RoleRegistry) Admin() (common.Address, error) { return r.get(events.RoleAdmin) }

// Exchange returns the exchange identity or the zero address.
func (r *RoleRegistry) Exchange() (common.Address, error) { return r.get(events.RoleExchange) }

// IsOwner reports whether addr holds the owner slot.
func (r *RoleRegistry) IsOwner(addr common.Address) (bool, error) {
	owner, err := r.Owner()
	if err != nil {
		return false, err
	}
	return owner != (common.Address{}) && owner == addr, nil
}

// IsAdmin reports whether addr holds the admin slot.
func (r *RoleRegistry) IsAdmin(addr common.Address) (bool, error) {
	admin, err := r.Admin()
	if err != nil {
		return false, err
	}
	return admin != (common.Address{}) && admin == addr, nil
}

// IsAdminOrOwner reports whether addr may act as admin. The owner inherits
// admin rights only while no admin is set.
func (r *RoleRegistry) IsAdminOrOwner(addr common.Address) (bool, error) {
	admin, err := r.Admin()
	if err != nil {
		return false, err
	}
	if admin != (common.Address{}) {
		return admin == addr, nil
	}
	return r.IsOwner(addr)
}

func (r *RoleRegistry) initialise(owner, admin, exchange common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := r.state.SetRole(r.instance, roleOwner, owner); err != nil {
		return err
	}
	if err := r.state.SetRole(r.instance, events.RoleAdmin, admin); err != nil {
		return err
	}
	return r.state.SetRole(r.instance, events.RoleExchange, exchange)
}

// SetAdmin replaces the admin. Only the owner may call it.
func (r *RoleRegistry) SetAdmin(caller, next common.Address) (*events.RoleChanged, error) {
	if err := r.requireOwner(caller); err != nil {
		return nil, err
	}
	return r.replace(events.RoleAdmin, next, ErrSameAdmin)
}

// RemoveAdmin clears the admin slot. Only the owner may call it.
func (r *RoleRegistry) RemoveAdmin(caller common.Address) (*events.RoleChanged, error) {
	if err := r.requireOwner(caller); err != nil {
		return nil, err
	}
	return r.clear(events.RoleAdmin, ErrSameAdmin)
}

// SetExchange replaces the exchange. Only the admin may call it.
func (r *RoleRegistry) SetExchange(caller, next common.Address) (*events.RoleChanged, error) {
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}
	return r.replace(events.RoleExchange, next, ErrSameExchange)
}

// RemoveExchange clears the exchange slot. Only the admin may call it.
func (r *RoleRegistry) RemoveExchange(caller common.Address) (*events.RoleChanged, error) {
	if err := r.requireAdmin(caller); err != nil {
		return nil, err
	}
	return r.clear(events.RoleExchange, ErrSameExchange)
}

func (r *RoleRegistry) requireOwner(caller common.Address) error {
	ok, err := r.IsOwner(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCallerNotOwner
	}
	return nil
}

func (r *RoleRegistry) requireAdmin(caller common.Address) error {
	ok, err := r.IsAdmin(caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCallerNotAdmin
	}
	return nil
}

func (r *RoleRegistry) replace(role string, next common.Address, same error) (*events.RoleChanged, error) {
	if next == (common.Address{}) {
		return nil, ErrInvalidWalletAddress
	}
	previous, err := r.get(role)
	if err != nil {
		return nil, err
	}
	if previous == next {
		return nil, same
	}
	if err := r.state.SetRole(r.instance, role, next); err != nil {
		return nil, err
	}
	return &events.RoleChanged{Escrow: r.instance, Kind: role, Previous: previous, New: next}, nil
}

func (r *RoleRegistry) clear(role string, same error) (*events.RoleChanged, error) {
	previous, err := r.get(role)
	if err != nil {
		return nil, err
	}
	if previous == (common.Address{}) {
		return nil, same
	}
	if err := r.state.SetRole(r.instance, role, common.Address{}); err != nil {
		return nil, err
	}
	return &events.RoleChanged{Escrow: r.instance, Kind: role, Previous: previous}, nil
}

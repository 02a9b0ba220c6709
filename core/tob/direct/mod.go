// Package direct is an implementation of the total-order broadcast that is
// using a local manager to order the proposals.
//
// Because it is using only a mutex to sequence the proposals, this
// implementation can only be used by multiple replicas in the same process.
// Its main purpose is to simplify the writing of tests, therefore it also
// allows a replica to be partitioned away from the others.
package direct

import (
	"context"
	"sync"

	corda "github.com/mvdbos/corda"
	"github.com/mvdbos/corda/core/tob"
	"golang.org/x/xerrors"
)

// Manager orders the proposals of all the replicas that joined it.
type Manager struct {
	sync.Mutex

	members     []*Broadcast
	partitioned map[*Broadcast]struct{}
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		partitioned: make(map[*Broadcast]struct{}),
	}
}

// Partition cuts the replica away from the others: its future proposals fail
// with tob.ErrNoQuorum and it stops receiving the proposals of the others.
func (m *Manager) Partition(b *Broadcast) {
	m.Lock()
	defer m.Unlock()

	m.partitioned[b] = struct{}{}
}

// Heal reconnects a previously partitioned replica. It does not replay the
// proposals missed while partitioned.
func (m *Manager) Heal(b *Broadcast) {
	m.Lock()
	defer m.Unlock()

	delete(m.partitioned, b)
}

func (m *Manager) propose(proposer *Broadcast, data []byte) ([]byte, error) {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.partitioned[proposer]; ok {
		return nil, xerrors.Errorf("replica is partitioned: %w", tob.ErrNoQuorum)
	}

	var result []byte
	var applyErr error

	for _, member := range m.members {
		if _, ok := m.partitioned[member]; ok {
			continue
		}

		if member.applier == nil {
			continue
		}

		res, err := member.applier.Apply(data)

		if member == proposer {
			result = res
			applyErr = err
		} else if err != nil {
			corda.Logger.Warn().Err(err).Msg("replica failed to apply proposal")
		}
	}

	if applyErr != nil {
		return nil, xerrors.Errorf("apply failed: %v", applyErr)
	}

	return result, nil
}

// Broadcast is a replica of the in-process total-order broadcast.
//
// - implements tob.Broadcast
type Broadcast struct {
	manager *Manager
	applier tob.Applier
}

// NewBroadcast creates a replica and joins the manager.
func NewBroadcast(manager *Manager) *Broadcast {
	b := &Broadcast{manager: manager}

	manager.Lock()
	manager.members = append(manager.members, b)
	manager.Unlock()

	return b
}

// Listen implements tob.Broadcast. It registers the applier of the replica
// and returns the actor to make proposals.
func (b *Broadcast) Listen(applier tob.Applier) (tob.Actor, error) {
	if applier == nil {
		return nil, xerrors.New("applier is required")
	}

	b.manager.Lock()
	b.applier = applier
	b.manager.Unlock()

	return actor{broadcast: b}, nil
}

// Actor is the handle to propose to the broadcast.
//
// - implements tob.Actor
type actor struct {
	broadcast *Broadcast
}

// Propose implements tob.Actor. It delivers the data to every connected
// replica in the global order and returns the result of the local applier.
func (a actor) Propose(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Errorf("context done: %v", err)
	}

	res, err := a.broadcast.manager.propose(a.broadcast, data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't propose: %w", err)
	}

	return res, nil
}

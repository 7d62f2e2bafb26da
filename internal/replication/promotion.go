package replication

import (
	"fmt"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/wal"
)

// State is one of the five explicit promotion states (spec §4.6
// Promotion protocol), plus the terminal Failed state any of them can
// transition to.
type State string

const (
	StateIdle         State = "idle"
	StateValidating   State = "validating"
	StateDraining     State = "draining"
	StateMarking      State = "marking"
	StateTransitioning State = "transitioning"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// AuthorityHandle is the subset of authority-side behavior the promotion
// protocol needs: it can report its durable WAL position, stop accepting
// new writes, and flush any tail it still holds.
type AuthorityHandle interface {
	DurableLSN() wal.LSN
	StopAcceptingWrites()
	FlushTail() error
	RewriteMarkerAsFollower(generation uint64) error
}

// Promotion drives one promotion request end to end, recording its
// current state as it goes so a crash mid-protocol can be diagnosed by
// reading back State (spec §4.6 Failure semantics: "a crash mid-Marking
// is recovered by examining which marker file exists on next boot").
type Promotion struct {
	State State

	targetMarkers  *MarkerStore
	targetFollower *Follower
	authority      AuthorityHandle
	selfNodeID     string
}

// NewPromotion builds a promotion driver for target (the node being
// promoted), using authority to interact with the current authority and
// targetMarkers to rewrite the target's own marker file.
func NewPromotion(targetMarkers *MarkerStore, targetFollower *Follower, authority AuthorityHandle, selfNodeID string) *Promotion {
	return &Promotion{
		State:          StateIdle,
		targetMarkers:  targetMarkers,
		targetFollower: targetFollower,
		authority:      authority,
		selfNodeID:     selfNodeID,
	}
}

// Run executes Validating -> Draining -> Marking -> Transitioning ->
// Completed in order, failing to Failed on the first error (spec §4.6
// Promotion protocol).
func (p *Promotion) Run() error {
	if err := p.validate(); err != nil {
		p.State = StateFailed
		return err
	}
	if err := p.drain(); err != nil {
		p.State = StateFailed
		return err
	}
	generation, err := p.mark()
	if err != nil {
		p.State = StateFailed
		return err
	}
	if err := p.transition(generation); err != nil {
		// The new authority marker is already durable at this point — a
		// failure here does not roll back the promotion; the old
		// authority will eventually fence itself via a higher generation
		// on its own next boot (spec §4.6 Transitioning, out of scope
		// here beyond the local marker).
		p.State = StateFailed
		return err
	}
	p.State = StateCompleted
	return nil
}

func (p *Promotion) validate() error {
	p.State = StateValidating
	current, err := p.targetMarkers.Read()
	if err != nil {
		return fmt.Errorf("validate: read target marker: %w", err)
	}
	durable := p.authority.DurableLSN()
	if p.targetFollower.LastAppliedLSN() < durable {
		return errors.New(errors.KindPrecondition, fmt.Errorf(
			"target has not caught up: last_applied_lsn=%d < authority durable_lsn=%d",
			p.targetFollower.LastAppliedLSN(), durable))
	}
	if current.Role != RoleFollower {
		return errors.New(errors.KindValidation, fmt.Errorf("target marker role is %q, not follower", current.Role))
	}
	return nil
}

func (p *Promotion) drain() error {
	p.State = StateDraining
	p.authority.StopAcceptingWrites()
	if err := p.authority.FlushTail(); err != nil {
		return fmt.Errorf("drain: flush authority WAL tail: %w", err)
	}
	return nil
}

func (p *Promotion) mark() (uint64, error) {
	p.State = StateMarking
	current, err := p.targetMarkers.Read()
	if err != nil {
		return 0, fmt.Errorf("mark: re-read target marker: %w", err)
	}
	next := current.Generation + 1
	if err := p.targetMarkers.Write(Marker{
		Role:            RoleAuthority,
		Generation:      next,
		AuthorityNodeID: p.selfNodeID,
	}); err != nil {
		return 0, errors.New(errors.KindIOTransient, fmt.Errorf("mark: rewrite target marker: %w", err))
	}
	return next, nil
}

func (p *Promotion) transition(generation uint64) error {
	p.State = StateTransitioning
	if err := p.authority.RewriteMarkerAsFollower(generation); err != nil {
		return fmt.Errorf("transition: rewrite old authority marker: %w", err)
	}
	return nil
}

package cdp

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/core/events"
)

// sortedTroves performs pointer surgery on the doubly linked list of active
// troves. The list is ordered by descending NICR from head to tail and its
// bookkeeping (head, tail, size) lives in PoolState.
type sortedTroves struct {
	state State
	pool  *PoolState
	emit  events.Emitter
}

func (s sortedTroves) load(owner common.Address) (*Trove, error) {
	trove, err := s.state.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if trove == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccount, owner.Hex())
	}
	return trove, nil
}

func (s sortedTroves) nicrOf(owner common.Address) (uint64, *Trove, error) {
	trove, err := s.load(owner)
	if err != nil {
		return 0, nil, err
	}
	if !trove.IsActive() {
		return 0, nil, fmt.Errorf("%w: neighbor %s is not active", ErrInvalidHint, owner.Hex())
	}
	nicr, err := trove.CurrentNICR(s.pool)
	return nicr, trove, err
}

// validateInsert checks that hint brackets nicr in the current list. self is
// the trove being inserted and may not appear in the hint.
func (s sortedTroves) validateInsert(self common.Address, nicr uint64, hint Hint) error {
	zero := common.Address{}
	if hint.Prev == self || hint.Next == self {
		return fmt.Errorf("%w: hint references the inserted trove", ErrInvalidHint)
	}
	switch {
	case hint.Prev == zero && hint.Next == zero:
		if s.pool.TroveSize != 0 {
			return fmt.Errorf("%w: empty hint on a non-empty list", ErrInvalidHint)
		}
	case hint.Prev == zero:
		if s.pool.TroveHead != hint.Next {
			return fmt.Errorf("%w: next %s is not the head", ErrInvalidHint, hint.Next.Hex())
		}
		nextNICR, _, err := s.nicrOf(hint.Next)
		if err != nil {
			return err
		}
		if nicr < nextNICR {
			return fmt.Errorf("%w: nicr %d below head %d", ErrInvalidHint, nicr, nextNICR)
		}
	case hint.Next == zero:
		if s.pool.TroveTail != hint.Prev {
			return fmt.Errorf("%w: prev %s is not the tail", ErrInvalidHint, hint.Prev.Hex())
		}
		prevNICR, _, err := s.nicrOf(hint.Prev)
		if err != nil {
			return err
		}
		if nicr > prevNICR {
			return fmt.Errorf("%w: nicr %d above tail %d", ErrInvalidHint, nicr, prevNICR)
		}
	default:
		prevNICR, prev, err := s.nicrOf(hint.Prev)
		if err != nil {
			return err
		}
		nextNICR, next, err := s.nicrOf(hint.Next)
		if err != nil {
			return err
		}
		if prev.Next != hint.Next || next.Prev != hint.Prev {
			return fmt.Errorf("%w: %s and %s are not adjacent", ErrInvalidHint, hint.Prev.Hex(), hint.Next.Hex())
		}
		if prevNICR < nicr || nicr < nextNICR {
			return fmt.Errorf("%w: nicr %d outside [%d, %d]", ErrInvalidHint, nicr, nextNICR, prevNICR)
		}
	}
	return nil
}

// insert links trove between the hinted neighbours.
func (s sortedTroves) insert(trove *Trove, nicr uint64, hint Hint) error {
	if nicr == 0 {
		return ErrNICRZero
	}
	if err := s.validateInsert(trove.Owner, nicr, hint); err != nil {
		return err
	}
	zero := common.Address{}
	trove.Prev = hint.Prev
	trove.Next = hint.Next
	if hint.Prev == zero {
		s.pool.TroveHead = trove.Owner
	} else {
		prev, err := s.load(hint.Prev)
		if err != nil {
			return err
		}
		prev.Next = trove.Owner
		if err := s.state.PutTrove(prev); err != nil {
			return err
		}
	}
	if hint.Next == zero {
		s.pool.TroveTail = trove.Owner
	} else {
		next, err := s.load(hint.Next)
		if err != nil {
			return err
		}
		next.Prev = trove.Owner
		if err := s.state.PutTrove(next); err != nil {
			return err
		}
	}
	s.pool.TroveSize++
	if err := s.state.PutTrove(trove); err != nil {
		return err
	}
	s.emit.Emit(events.NodeAdded{Owner: trove.Owner, NICR: nicr})
	return nil
}

// remove unlinks trove using its own pointers.
func (s sortedTroves) remove(trove *Trove) error {
	if s.pool.TroveSize == 0 {
		return fmt.Errorf("remove from empty list: %w", ErrCalculation)
	}
	zero := common.Address{}
	if trove.Prev == zero {
		if s.pool.TroveHead != trove.Owner {
			return fmt.Errorf("trove %s is not linked: %w", trove.Owner.Hex(), ErrCalculation)
		}
		s.pool.TroveHead = trove.Next
	} else {
		prev, err := s.load(trove.Prev)
		if err != nil {
			return err
		}
		prev.Next = trove.Next
		if err := s.state.PutTrove(prev); err != nil {
			return err
		}
	}
	if trove.Next == zero {
		if s.pool.TroveTail != trove.Owner {
			return fmt.Errorf("trove %s is not linked: %w", trove.Owner.Hex(), ErrCalculation)
		}
		s.pool.TroveTail = trove.Prev
	} else {
		next, err := s.load(trove.Next)
		if err != nil {
			return err
		}
		next.Prev = trove.Prev
		if err := s.state.PutTrove(next); err != nil {
			return err
		}
	}
	trove.Prev = zero
	trove.Next = zero
	s.pool.TroveSize--
	if err := s.state.PutTrove(trove); err != nil {
		return err
	}
	s.emit.Emit(events.NodeRemoved{Owner: trove.Owner})
	return nil
}

// reinsert moves trove to the position described by hint. The hint is
// validated against the list with the trove already unlinked.
func (s sortedTroves) reinsert(trove *Trove, nicr uint64, hint Hint) error {
	if nicr == 0 {
		return ErrNICRZero
	}
	if err := s.remove(trove); err != nil {
		return err
	}
	return s.insert(trove, nicr, hint)
}

// findInsertPosition scans from the head for the neighbours of nicr,
// skipping exclude.
func (s sortedTroves) findInsertPosition(nicr uint64, exclude common.Address) (Hint, error) {
	zero := common.Address{}
	var hint Hint
	cursor := s.pool.TroveHead
	for cursor != zero {
		trove, err := s.load(cursor)
		if err != nil {
			return Hint{}, err
		}
		if cursor == exclude {
			cursor = trove.Next
			continue
		}
		current, err := trove.CurrentNICR(s.pool)
		if err != nil {
			return Hint{}, err
		}
		if current < nicr {
			hint.Next = cursor
			return hint, nil
		}
		hint.Prev = cursor
		cursor = trove.Next
	}
	return hint, nil
}

// walk visits at most limit troves from the head; zero means no limit.
func (s sortedTroves) walk(limit int, visit func(*Trove) error) error {
	zero := common.Address{}
	cursor := s.pool.TroveHead
	for i := 0; cursor != zero && (limit <= 0 || i < limit); i++ {
		trove, err := s.load(cursor)
		if err != nil {
			return err
		}
		if err := visit(trove); err != nil {
			return err
		}
		cursor = trove.Next
	}
	return nil
}

package pricefeed

// update advances the failover state for one pair of readings and returns the
// price to use. Accepted prices are rescaled and become the last good price;
// rejected readings return the previous last good price. An accepted price
// that cannot be rescaled fails with fixedpoint.ErrOverflow and the caller
// discards the partial transition.
func (f *Feed) update(msg PythPrice, round SecondaryRound, secondaryPrice uint64, now int64) (uint64, error) {
	var pythPrice uint64
	if msg.Price > 0 {
		pythPrice = uint64(msg.Price)
	}
	last := f.state.LastGoodPrice

	switch f.state.Status {
	case StatusPythWorking:
		if isPythBroken(msg, now) {
			if isSecondaryBroken(round) {
				f.setStatus(StatusBothOraclesUntrusted)
				return last, nil
			}
			f.setStatus(StatusUsingXPythUntrusted)
			if isSecondaryFrozen(round, now) {
				return last, nil
			}
			return f.updatePrice(secondaryPrice)
		}
		if isPythFrozen(msg, now) {
			if isSecondaryBroken(round) {
				f.setStatus(StatusUsingPythXUntrusted)
				return last, nil
			}
			f.setStatus(StatusUsingXPythFrozen)
			if isSecondaryFrozen(round, now) {
				return last, nil
			}
			return f.updatePrice(secondaryPrice)
		}
		if pythConfAboveMax(msg) {
			if isSecondaryBroken(round) {
				f.setStatus(StatusBothOraclesUntrusted)
				return last, nil
			}
			if isSecondaryFrozen(round, now) {
				f.setStatus(StatusUsingXPythUntrusted)
				return last, nil
			}
			if bothSimilarPrice(pythPrice, secondaryPrice) {
				return f.updatePrice(pythPrice)
			}
			f.setStatus(StatusUsingXPythUntrusted)
			return f.updatePrice(secondaryPrice)
		}
		if isSecondaryBroken(round) {
			f.setStatus(StatusUsingPythXUntrusted)
		}
		return f.updatePrice(pythPrice)

	case StatusUsingXPythUntrusted:
		if bothLiveUnbrokenSimilar(msg, round, secondaryPrice, now) {
			f.setStatus(StatusPythWorking)
			return f.updatePrice(pythPrice)
		}
		if isSecondaryBroken(round) {
			f.setStatus(StatusBothOraclesUntrusted)
			return last, nil
		}
		if isSecondaryFrozen(round, now) {
			return last, nil
		}
		return f.updatePrice(secondaryPrice)

	case StatusBothOraclesUntrusted:
		if bothLiveUnbrokenSimilar(msg, round, secondaryPrice, now) {
			f.setStatus(StatusPythWorking)
			return f.updatePrice(pythPrice)
		}
		return last, nil

	case StatusUsingXPythFrozen:
		if isPythBroken(msg, now) {
			if isSecondaryBroken(round) {
				f.setStatus(StatusBothOraclesUntrusted)
				return last, nil
			}
			f.setStatus(StatusUsingXPythUntrusted)
			if isSecondaryFrozen(round, now) {
				return last, nil
			}
			return f.updatePrice(secondaryPrice)
		}
		if isPythFrozen(msg, now) {
			if isSecondaryBroken(round) {
				f.setStatus(StatusUsingPythXUntrusted)
				return last, nil
			}
			if isSecondaryFrozen(round, now) {
				return last, nil
			}
			return f.updatePrice(secondaryPrice)
		}
		if isSecondaryBroken(round) {
			f.setStatus(StatusUsingPythXUntrusted)
			return f.updatePrice(pythPrice)
		}
		if isSecondaryFrozen(round, now) {
			return last, nil
		}
		if bothSimilarPrice(pythPrice, secondaryPrice) {
			f.setStatus(StatusPythWorking)
			return f.updatePrice(pythPrice)
		}
		f.setStatus(StatusUsingXPythUntrusted)
		return f.updatePrice(secondaryPrice)

	case StatusUsingPythXUntrusted:
		if isPythBroken(msg, now) {
			f.setStatus(StatusBothOraclesUntrusted)
			return last, nil
		}
		if isPythFrozen(msg, now) {
			return last, nil
		}
		if bothLiveUnbrokenSimilar(msg, round, secondaryPrice, now) {
			f.setStatus(StatusPythWorking)
			return f.updatePrice(pythPrice)
		}
		if pythConfAboveMax(msg) {
			f.setStatus(StatusBothOraclesUntrusted)
			return last, nil
		}
		return f.updatePrice(pythPrice)
	}
	return last, nil
}

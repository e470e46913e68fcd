package pricefeed

func isPythBroken(msg PythPrice, now int64) bool {
	return msg.Price <= 0 || msg.PublishTime == 0 || msg.Conf == 0 || now < msg.PublishTime
}

func isSecondaryBroken(round SecondaryRound) bool {
	return round.Answer <= 0 || round.RoundID == 0 || round.Slot == 0 || round.Timestamp == 0
}

func isPythFrozen(msg PythPrice, now int64) bool {
	return now-msg.PublishTime > Timeout
}

func isSecondaryFrozen(round SecondaryRound, now int64) bool {
	return now-int64(round.Timestamp) > Timeout
}

// pythConfAboveMax expects a positive price.
func pythConfAboveMax(msg PythPrice) bool {
	if msg.Price <= 0 {
		return true
	}
	return ratio(msg.Conf, uint64(msg.Price)) > MaxConfidenceRate
}

func bothSimilarPrice(pyth, secondary uint64) bool {
	lo, hi := pyth, secondary
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == 0 {
		return false
	}
	return ratio(hi-lo, lo) <= MaxPriceDifference
}

func bothLiveUnbrokenSimilar(msg PythPrice, round SecondaryRound, secondaryPrice uint64, now int64) bool {
	if isSecondaryBroken(round) || isSecondaryFrozen(round, now) || isPythBroken(msg, now) || isPythFrozen(msg, now) {
		return false
	}
	return bothSimilarPrice(uint64(msg.Price), secondaryPrice)
}

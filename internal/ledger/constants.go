package ledger

const (
	// EpochDuration is the epoch length in seconds
	EpochDuration int64 = 60

	// BusCount is the number of submission lanes
	BusCount = 8

	// OneUnit is the native token's base-unit multiplier (lamports per SOL)
	OneUnit uint64 = 1_000_000_000

	// MinBalance is the smallest balance allowed to start mining
	MinBalance = OneUnit / 100
)

// Eligible reports whether balance is enough to start a session
func Eligible(balance uint64) bool {
	return balance != 0 && balance >= MinBalance
}

// EpochEnd returns when the treasury's epoch expires, saturating on overflow
func EpochEnd(t *Treasury, duration int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if duration > 0 && t.EpochStartAt > maxInt64-duration {
		return maxInt64
	}
	return t.EpochStartAt + duration
}

// NeedsEpochReset reports whether the clock has reached the epoch end
func NeedsEpochReset(t *Treasury, c *Clock, duration int64) bool {
	return c.UnixTimestamp >= EpochEnd(t, duration)
}

// NextBus returns the lane tried after busID
func NextBus(busID int) int {
	return (busID + 1) % BusCount
}

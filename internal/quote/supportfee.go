package quote

import (
	"github.com/Fantasim/railpay/internal/config"
)

// SupportFeeSchedule computes the operator-retained fee as a progressive
// bracket function of amount: each bracket's ppm applies only to the slice
// of the amount above its threshold. With non-negative ppm values the fee
// is strictly non-negative and monotone non-decreasing in amount.
//
// Bracket values are configuration input, not a hard-coded algorithm.
type SupportFeeSchedule struct {
	brackets []config.FeeBracket
}

// NewSupportFeeSchedule builds a schedule from parsed config brackets.
// A nil or empty bracket list disables the fee.
func NewSupportFeeSchedule(brackets []config.FeeBracket) *SupportFeeSchedule {
	return &SupportFeeSchedule{brackets: brackets}
}

// Fee returns the support fee in sats for the given amount.
func (s *SupportFeeSchedule) Fee(amountSats int64) int64 {
	if amountSats <= 0 || len(s.brackets) == 0 {
		return 0
	}

	var fee int64
	for i, b := range s.brackets {
		sliceEnd := amountSats
		if i+1 < len(s.brackets) && s.brackets[i+1].ThresholdSats < sliceEnd {
			sliceEnd = s.brackets[i+1].ThresholdSats
		}
		if sliceEnd <= b.ThresholdSats {
			break
		}
		fee += (sliceEnd - b.ThresholdSats) * b.PPM / 1_000_000
	}

	return fee
}

// Enabled reports whether any bracket is configured.
func (s *SupportFeeSchedule) Enabled() bool {
	return len(s.brackets) > 0
}

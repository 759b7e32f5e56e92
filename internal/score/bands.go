package score

import (
	"math"

	"github.com/shoaibmiaan/viva/internal/exam"
)

// RoundToBand clamps a raw score onto the 0–9 band scale and rounds it to
// the nearest half band.
func RoundToBand(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		v = 0
	}
	if v > 9 {
		v = 9
	}
	return math.Round(v*2) / 2
}

// Overall is the band-rounded mean of the four criteria.
func Overall(c exam.Criteria) float64 {
	mean := (c.Fluency + c.Lexical + c.Grammar + c.Pronunciation) / 4
	return RoundToBand(mean)
}

package adapt

import (
	"fmt"
	"strings"
)

// StoppingCriterion decides how many of the ranked element errors, largest
// first, are refined in one step.
type StoppingCriterion interface {
	Count(sorted []ElementError) int
}

// Cumulative refines the largest errors until the refined share reaches
// Threshold of the total.
type Cumulative struct{ Threshold float64 }

func (c Cumulative) Count(sorted []ElementError) (n int) {
	var total, acc float64
	for _, e := range sorted {
		total += e.Value
	}
	if total == 0 {
		return 0
	}
	for _, e := range sorted {
		acc += e.Value
		n++
		if acc >= c.Threshold*total {
			break
		}
	}
	return
}

// SingleElement refines every element whose error is at least Threshold
// times the largest one.
type SingleElement struct{ Threshold float64 }

func (c SingleElement) Count(sorted []ElementError) int {
	if len(sorted) == 0 || sorted[0].Value == 0 {
		return 0
	}
	return countAbove(sorted, c.Threshold*sorted[0].Value)
}

// FractionOfTotal refines every element whose error is at least Threshold
// times the total.
type FractionOfTotal struct{ Threshold float64 }

func (c FractionOfTotal) Count(sorted []ElementError) int {
	var total float64
	for _, e := range sorted {
		total += e.Value
	}
	if total == 0 {
		return 0
	}
	return countAbove(sorted, c.Threshold*total)
}

func countAbove(sorted []ElementError, limit float64) (n int) {
	for _, e := range sorted {
		if e.Value < limit || e.Value == 0 {
			break
		}
		n++
	}
	return
}

func ParseStoppingCriterion(name string, threshold float64) (StoppingCriterion, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("stopping threshold %g outside (0,1]", threshold)
	}
	switch strings.ToLower(name) {
	case "cumulative":
		return Cumulative{threshold}, nil
	case "single_element", "singleelement":
		return SingleElement{threshold}, nil
	case "fraction_of_total", "fractionoftotal":
		return FractionOfTotal{threshold}, nil
	}
	return nil, fmt.Errorf("unknown stopping criterion %q", name)
}

package grade

import (
	"math"

	"school_portal/backend/internal/shared"
)

// Category weights of the final grade.
const (
	WeightWrittenWork         = 0.3
	WeightPerformanceTasks    = 0.5
	WeightQuarterlyAssessment = 0.2
)

// CategoryAverage is the mean over scored (non-nil) entries, 0 when none
// are scored. A score whose item defines a positive maxScore is first
// normalized to a percentage of it; otherwise the raw score is used.
func CategoryAverage(scores []*float64, items []shared.GradeItem) float64 {
	var sum float64
	var n int
	for i, s := range scores {
		if s == nil {
			continue
		}
		v := *s
		if i < len(items) && items[i].MaxScore > 0 {
			v = v / items[i].MaxScore * 100
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return round2(sum / float64(n))
}

// ComputeAverages derives the averages from raw scores alone. cfg may be
// nil when no configuration defines the items.
func ComputeAverages(scores shared.Scores, cfg *shared.GradeConfiguration) shared.Averages {
	items := func(category string) []shared.GradeItem {
		if cfg == nil {
			return nil
		}
		return cfg.Items(category)
	}

	a := shared.Averages{
		WrittenWork:         CategoryAverage(scores.WrittenWork, items(shared.CategoryWrittenWork)),
		PerformanceTasks:    CategoryAverage(scores.PerformanceTasks, items(shared.CategoryPerformanceTasks)),
		QuarterlyAssessment: CategoryAverage(scores.QuarterlyAssessment, items(shared.CategoryQuarterlyAssessment)),
	}
	a.FinalGrade = FinalGrade(a)
	return a
}

// FinalGrade weighs the three category averages.
func FinalGrade(a shared.Averages) float64 {
	return round2(a.WrittenWork*WeightWrittenWork +
		a.PerformanceTasks*WeightPerformanceTasks +
		a.QuarterlyAssessment*WeightQuarterlyAssessment)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// setAt stores score at index, growing the slice with unscored entries.
func setAt(scores []*float64, index int, score *float64) []*float64 {
	for len(scores) <= index {
		scores = append(scores, nil)
	}
	if score == nil {
		scores[index] = nil
	} else {
		v := *score
		scores[index] = &v
	}
	return scores
}

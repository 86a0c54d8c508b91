package exam

// passPercentage is the minimum overall percentage to pass the examination.
const passPercentage = 60.0

// gradeFor maps an overall percentage to a letter grade.
func gradeFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// performanceFor maps an overall percentage to a performance band.
func performanceFor(percentage float64) string {
	switch {
	case percentage >= 85:
		return "Excellent"
	case percentage >= 70:
		return "Good"
	case percentage >= 55:
		return "Satisfactory"
	default:
		return "Needs Improvement"
	}
}

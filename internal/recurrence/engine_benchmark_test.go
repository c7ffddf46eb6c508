package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineEvaluate(b *testing.B) {
	engine := NewEngine(time.UTC)
	days, err := NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
	if err != nil {
		b.Fatalf("unexpected error: %v", err)
	}
	rule := Rule{ScheduleID: "schedule-1", At: TimeOfDay{Hour: 9}, Days: days}
	start := Date{Year: 2024, Month: time.May, Day: 6}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Evaluate(rule, start.AddDays(i%90))
	}
}

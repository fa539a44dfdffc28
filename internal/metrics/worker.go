package metrics

import "time"

// TaskCompleted records a successful maintenance task run.
func TaskCompleted(taskType string, duration time.Duration) {
	TasksTotal.WithLabelValues(taskType, "completed").Inc()
	TaskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// TaskFailed records a maintenance task failure.
func TaskFailed(taskType string) {
	TasksTotal.WithLabelValues(taskType, "failed").Inc()
}

package pipeline

import "github.com/slidecast/slidecast/internal/job"

// Small constructors for the task updates the pipeline writes constantly.

func runningUpdate(progress string) job.TaskUpdate {
	status := job.TaskRunning
	return job.TaskUpdate{Status: &status, Progress: &progress}
}

func progressUpdate(progress string) job.TaskUpdate {
	return job.TaskUpdate{Progress: &progress}
}

func terminalUpdate(status job.TaskStatus, progress string, errMsg *string) job.TaskUpdate {
	upd := job.TaskUpdate{Status: &status, Error: errMsg}
	if progress != "" {
		upd.Progress = &progress
	}
	return upd
}

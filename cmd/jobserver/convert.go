package main

import (
	api "github.com/nixpig/jobsearch/api/v1"
	"github.com/nixpig/jobsearch/internal/taskmanager"
	"github.com/nixpig/jobsearch/internal/taskmanager/output"
)

func toAPIStatus(s *taskmanager.TaskStatus) api.TaskStatus {
	out := api.TaskStatus{
		TaskID:       s.ID,
		Status:       s.State.String(),
		Mode:         s.Input.Mode(),
		CVPath:       s.Input.CVPath,
		Companies:    s.Input.Companies,
		Logs:         make([]api.LogLine, 0, len(s.Log)),
		Jobs:         s.Jobs,
		Error:        s.Error,
		ResultsError: s.ResultsError,
		ExitCode:     s.ExitCode,
		CreatedAt:    s.CreatedAt,
	}

	for _, l := range s.Log {
		out.Logs = append(out.Logs, toAPILogLine(l))
	}

	if !s.EndedAt.IsZero() {
		endedAt := s.EndedAt
		out.EndedAt = &endedAt
	}

	return out
}

func toAPILogLine(l output.Line) api.LogLine {
	return api.LogLine{Stream: string(l.Stream), Text: l.Text, Time: l.Time}
}

// Package models contains shared data models used across the enaupload codebase.
package models

import "fmt"

// Status is the lifecycle state of a Job or AnalysisJob. The string values are
// the wire vocabulary and are transmitted verbatim.
type Status string

const (
	StatusDraft     Status = "DRAFT" // AnalysisJob only
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSubmitted Status = "SUBMITTED"
	StatusError     Status = "ERROR"
)

// ParseStatus validates s against the status vocabulary.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusDraft, StatusQueued, StatusRunning, StatusSubmitted, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Action is the registry operation a Job performs.
type Action string

const (
	ActionAdd     Action = "ADD"
	ActionModify  Action = "MODIFY"
	ActionCancel  Action = "CANCEL"
	ActionRelease Action = "RELEASE"
)

// ParseAction validates s against the action vocabulary.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAdd, ActionModify, ActionCancel, ActionRelease:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Outcome is the record status the registry reports once the action has been
// applied (ADD -> ADDED and so on).
func (a Action) Outcome() string {
	switch a {
	case ActionAdd:
		return "ADDED"
	case ActionModify:
		return "MODIFIED"
	case ActionCancel:
		return "CANCELLED"
	case ActionRelease:
		return "RELEASED"
	default:
		return ""
	}
}

// Schema sections in submission order.
var Schemas = []string{"study", "sample", "experiment", "run"}

// DataSections lists every top-level key a Job's data may hold.
var DataSections = []string{"study", "sample", "experiment", "run", "center_name", "laboratory", "checklist"}

// IsSchema reports whether name is one of Schemas.
func IsSchema(name string) bool {
	for _, s := range Schemas {
		if s == name {
			return true
		}
	}
	return false
}

// IsDataSection reports whether name is one of DataSections.
func IsDataSection(name string) bool {
	for _, s := range DataSections {
		if s == name {
			return true
		}
	}
	return false
}

// JobTransitionSources returns the statuses from which a Job may move to `to`.
// force widens re-queueing to RUNNING and SUBMITTED jobs.
// An empty result means the target is never reachable.
func JobTransitionSources(to Status, force bool) []Status {
	switch to {
	case StatusQueued:
		if force {
			return []Status{StatusQueued, StatusRunning, StatusSubmitted, StatusError}
		}
		return []Status{StatusQueued, StatusError}
	case StatusRunning:
		return []Status{StatusQueued}
	case StatusSubmitted:
		return []Status{StatusRunning}
	case StatusError:
		return []Status{StatusRunning}
	case StatusDraft:
		return nil
	default:
		return nil
	}
}

// AnalysisTransitionSources is JobTransitionSources for AnalysisJobs, which
// start in DRAFT and may fail straight from QUEUED when no files are attached.
func AnalysisTransitionSources(to Status, force bool) []Status {
	switch to {
	case StatusQueued:
		if force {
			return []Status{StatusDraft, StatusQueued, StatusRunning, StatusSubmitted, StatusError}
		}
		return []Status{StatusDraft, StatusQueued, StatusError}
	case StatusRunning:
		return []Status{StatusQueued}
	case StatusSubmitted:
		return []Status{StatusRunning}
	case StatusError:
		return []Status{StatusQueued, StatusRunning}
	case StatusDraft:
		return nil
	default:
		return nil
	}
}

// ContainsStatus reports whether s is in list.
func ContainsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

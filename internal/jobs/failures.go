package jobs

import "strings"

// FailureCategory buckets terminal job errors into user-actionable groups.
type FailureCategory string

const (
	FailQuota   FailureCategory = "quota"
	FailLicense FailureCategory = "license"
	FailBackend FailureCategory = "backend"
	FailNetwork FailureCategory = "network"
	FailTimeout FailureCategory = "timeout"
	FailLost    FailureCategory = "lost"
	FailUnknown FailureCategory = "unknown"
)

// Failure is a terminal job error with a short diagnosis and a concrete next
// step, suitable for a single assistant-facing message.
type Failure struct {
	Category FailureCategory
	Message  string
}

func (f Failure) Error() string { return f.Message }

// classifyFailure maps a raw remote error string to its failure category.
// The remote service reports errors as free text, so this is substring
// matching against the phrasings it is known to emit.
func classifyFailure(raw string) Failure {
	lower := strings.ToLower(raw)
	switch {
	case containsAny(lower, "quota", "credit", "usage limit", "billing"):
		return Failure{
			Category: FailQuota,
			Message:  "The service quota for this account is exhausted. Upgrade the plan or wait for the quota to renew before starting another job.",
		}
	case containsAny(lower, "license", "subscription expired", "account inactive", "account disabled"):
		return Failure{
			Category: FailLicense,
			Message:  "The service license is expired or inactive. Re-enter your credentials or contact your administrator to reactivate the account.",
		}
	case containsAny(lower, "ssl", "certificate", "tls", "workflow", "engine error", "internal error"):
		return Failure{
			Category: FailBackend,
			Message:  "The service backend hit a temporary problem. This is usually transient; try the job again in a few minutes.",
		}
	default:
		return Failure{
			Category: FailUnknown,
			Message:  "The job failed: " + raw,
		}
	}
}

func networkFailure() Failure {
	return Failure{
		Category: FailNetwork,
		Message:  "Lost contact with the service while tracking the job. Check your connection and try again.",
	}
}

func timeoutFailure() Failure {
	return Failure{
		Category: FailTimeout,
		Message:  "The job did not finish within its time budget. It may still complete on the service side; try again later or narrow the request.",
	}
}

func lostFailure() Failure {
	return Failure{
		Category: FailLost,
		Message:  "The service lost track of this job and no result was available. Start the job again.",
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package healthgate

import (
	"fmt"
	"time"
)

// Status is the verdict of a gate or of a whole report.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the more severe of s and other. Unknown statuses count as critical.
func (s Status) Worse(other Status) Status {
	if other.severity() > s.severity() {
		return other
	}

	return s
}

func (s Status) String() string {
	return string(s)
}

// Gate is the outcome of one check. Value and Threshold are percentages
// for rate gates and raw counts for count gates.
type Gate struct {
	Name           string  `json:"name"`
	Status         Status  `json:"status"`
	Value          float64 `json:"value"`
	Threshold      float64 `json:"threshold"`
	Message        string  `json:"message"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// Report is the result of running every gate once.
type Report struct {
	Status    Status    `json:"status"`
	Gates     []Gate    `json:"gates"`
	CheckedAt time.Time `json:"checked_at"`
}

// Aggregate returns critical if any gate is critical, degraded if any is
// degraded, and healthy otherwise, independent of gate order.
func Aggregate(gates []Gate) Status {
	overall := StatusHealthy
	for _, g := range gates {
		overall = overall.Worse(g.Status)
	}

	return overall
}

// Counts returns the number of gates per status.
func (r Report) Counts() map[Status]int {
	out := map[Status]int{StatusHealthy: 0, StatusDegraded: 0, StatusCritical: 0}
	for _, g := range r.Gates {
		out[g.Status]++
	}

	return out
}

func (g Gate) String() string {
	return fmt.Sprintf("%s [%s] %s", g.Name, g.Status, g.Message)
}

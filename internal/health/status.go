package health

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"RagChat/internal/backend"
)

// Kind is the connectivity state of the selected endpoint
type Kind string

const (
	KindUnknown      Kind = "unknown"
	KindProbing      Kind = "probing"
	KindConnected    Kind = "connected"
	KindUnavailable  Kind = "unavailable"
	KindNetworkError Kind = "network_error"
)

// Counters are the optional figures a probe response may carry
type Counters struct {
	Documents *int
	Sessions  *int
}

// Status is the current connectivity of one endpoint
type Status struct {
	Kind          Kind
	Endpoint      string
	Counters      Counters
	ServiceStatus string
	Version       string
	Detail        string
	CheckedAt     time.Time
}

// Unknown is the status of an endpoint nobody has probed yet
func Unknown(endpoint string) Status {
	return Status{Kind: KindUnknown, Endpoint: endpoint}
}

// Probing is published while a probe is being prepared or in flight
func Probing(endpoint string) Status {
	return Status{Kind: KindProbing, Endpoint: endpoint, Detail: "testing connection"}
}

// Connected reports whether the endpoint answered its last probe
func (s Status) Connected() bool {
	return s.Kind == KindConnected
}

// String renders the status for display
func (s Status) String() string {
	switch s.Kind {
	case KindConnected:
		var parts []string
		if s.Counters.Documents != nil {
			parts = append(parts, fmt.Sprintf("%d documents", *s.Counters.Documents))
		}
		if s.Counters.Sessions != nil {
			parts = append(parts, fmt.Sprintf("%d sessions", *s.Counters.Sessions))
		}
		if s.ServiceStatus != "" {
			parts = append(parts, s.ServiceStatus)
		}
		if len(parts) == 0 {
			return "connected"
		}
		return "connected (" + strings.Join(parts, ", ") + ")"
	case KindProbing:
		return "testing connection..."
	case KindUnavailable, KindNetworkError:
		if s.Detail != "" {
			return string(s.Kind) + ": " + s.Detail
		}
		return string(s.Kind)
	default:
		return "unknown"
	}
}

// Classify turns a probe outcome into a status
func Classify(endpoint string, report backend.HealthReport, err error, at time.Time) Status {
	st := Status{Endpoint: endpoint, CheckedAt: at}

	var se *backend.ServerError
	switch {
	case err == nil:
		st.Kind = KindConnected
		st.Counters = Counters{Documents: report.Documents, Sessions: report.Sessions}
		st.ServiceStatus = report.ServiceStatus
		st.Version = report.Version
		st.Detail = "API connected"
	case errors.As(err, &se):
		st.Kind = KindUnavailable
		st.Detail = fmt.Sprintf("service answered %d", se.StatusCode)
	default:
		// no response at all, or a request that could not be built
		st.Kind = KindNetworkError
		st.Detail = "no response from service"
	}
	return st
}

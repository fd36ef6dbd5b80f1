package domain

import "time"

// HandoffStatus represents the negotiation status of a handoff
type HandoffStatus string

const (
	HandoffStatusPending   HandoffStatus = "pending"
	HandoffStatusAccepted  HandoffStatus = "accepted"
	HandoffStatusRejected  HandoffStatus = "rejected"
	HandoffStatusExpired   HandoffStatus = "expired"
	HandoffStatusCancelled HandoffStatus = "cancelled"
)

// IsTerminal reports whether the handoff can no longer change
func (s HandoffStatus) IsTerminal() bool {
	return s != HandoffStatusPending && s != ""
}

// HandoffReason explains why control is being transferred
type HandoffReason string

const (
	HandoffReasonExpertiseRequired HandoffReason = "expertise_required"
	HandoffReasonManual            HandoffReason = "manual"
	HandoffReasonEscalation        HandoffReason = "escalation"
	HandoffReasonWorkloadBalance   HandoffReason = "workload_balance"
	HandoffReasonTaskCompletion    HandoffReason = "task_completion"
	HandoffReasonErrorRecovery     HandoffReason = "error_recovery"
)

// Valid reports whether r is a known reason
func (r HandoffReason) Valid() bool {
	switch r {
	case HandoffReasonExpertiseRequired, HandoffReasonManual, HandoffReasonEscalation,
		HandoffReasonWorkloadBalance, HandoffReasonTaskCompletion, HandoffReasonErrorRecovery:
		return true
	}
	return false
}

// AuditEntry records a single handoff status transition
type AuditEntry struct {
	Sequence  int           `json:"sequence"`
	Actor     string        `json:"actor"`
	From      HandoffStatus `json:"from,omitempty"`
	To        HandoffStatus `json:"to"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Handoff is a proposal to transfer control of a conversation between agents
type Handoff struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	FromAgent       string         `json:"from_agent"`
	ToAgent         string         `json:"to_agent"`
	Reason          HandoffReason  `json:"reason"`
	Message         string         `json:"message,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	Priority        int            `json:"priority"`
	Status          HandoffStatus  `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	RespondedAt     *time.Time     `json:"responded_at,omitempty"`
	ResponseMessage string         `json:"response_message,omitempty"`
	Audit           []AuditEntry   `json:"audit"`
}

// Clone returns a deep copy of the handoff
func (h *Handoff) Clone() *Handoff {
	c := *h
	if h.Context != nil {
		c.Context = make(map[string]any, len(h.Context))
		for k, v := range h.Context {
			c.Context[k] = v
		}
	}
	if h.RespondedAt != nil {
		t := *h.RespondedAt
		c.RespondedAt = &t
	}
	c.Audit = append([]AuditEntry(nil), h.Audit...)
	return &c
}

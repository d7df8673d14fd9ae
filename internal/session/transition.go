package session

import (
	"time"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// transition applies ev to sess according to the slice state machine.
// On error sess is left untouched.
func transition(sess *domain.Session, ev domain.Event, now time.Time) error {
	from := sess.Status
	if from.IsTerminal() || from == domain.StatusIdle {
		return rejectEvent(sess, ev, "session is %s", from)
	}

	switch ev.Type {
	case domain.EventStageUpdate:
		if from == domain.StatusAwaitingApproval {
			return rejectEvent(sess, ev, "stage update while awaiting approval")
		}
		sess.Status = domain.StatusRunning
		if ev.Stage != "" {
			sess.CurrentStage = ev.Stage
		}

	case domain.EventReasoningAppend:
		if ev.Text == "" {
			return rejectEvent(sess, ev, "empty reasoning entry")
		}
		if ev.Seq > 0 && ev.Seq <= len(sess.ReasoningLog) {
			return rejectEvent(sess, ev, "reasoning entry %d already applied", ev.Seq)
		}
		sess.ReasoningLog = append(sess.ReasoningLog, ev.Text)

	case domain.EventProposalReady:
		if from == domain.StatusAwaitingApproval {
			return rejectEvent(sess, ev, "proposal already pending")
		}
		if from != domain.StatusRunning {
			return rejectEvent(sess, ev, "proposal while %s", from)
		}
		if ev.Proposal == nil {
			return rejectEvent(sess, ev, "proposal_ready without proposal")
		}
		sess.Status = domain.StatusAwaitingApproval
		sess.CurrentStage = ""
		sess.TradeProposal = ev.Proposal.Clone()

	case domain.EventCompleted:
		if from == domain.StatusQueued {
			return rejectEvent(sess, ev, "completed before running")
		}
		sess.Status = domain.StatusCompleted
		sess.CurrentStage = ""

	case domain.EventError:
		sess.Status = domain.StatusError
		sess.CurrentStage = ""
		sess.TradeProposal = nil
		sess.Error = ev.Error

	case domain.EventCancelled:
		sess.Status = domain.StatusCancelled
		sess.CurrentStage = ""
		sess.TradeProposal = nil

	default:
		return rejectEvent(sess, ev, "unknown event type %q", ev.Type)
	}

	sess.UpdatedAt = now
	return nil
}

func rejectEvent(sess *domain.Session, ev domain.Event, format string, args ...interface{}) error {
	return domain.NewError(domain.KindInvalidTransition, string(ev.Type), sess.SessionID, format, args...)
}

// snapshotWorthy reports whether reaching status records a history entry.
func snapshotWorthy(status domain.SessionStatus) bool {
	return status == domain.StatusAwaitingApproval || status.IsTerminal()
}

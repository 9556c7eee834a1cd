package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/progression-engine/progression"
)

// RecordingPresenter logs engine notifications and keeps the most recent
// ones so a client can poll them over HTTP.
type RecordingPresenter struct {
	logger *logrus.Entry
	limit  int

	mu      sync.Mutex
	entries []NotificationDTO
}

func NewRecordingPresenter(logger *logrus.Entry) *RecordingPresenter {
	return &RecordingPresenter{logger: logger, limit: 50}
}

func (p *RecordingPresenter) OnCompletionEvent(ev progression.CompletionEvent) {
	p.logger.WithFields(logrus.Fields{
		"instance":   ev.InstanceID,
		"definition": ev.DefinitionID,
	}).Info("challenge completed")
	p.record(NotificationDTO{Kind: "completion", InstanceID: string(ev.InstanceID), DefinitionID: string(ev.DefinitionID)})
}

func (p *RecordingPresenter) OnGraphChanged(nodes []progression.JourneyNode) {
	p.logger.WithField("nodes", len(nodes)).Debug("journey changed")
	p.record(NotificationDTO{Kind: "journey"})
}

func (p *RecordingPresenter) OnInsufficientFunds(item progression.InventoryItem) {
	p.logger.WithFields(logrus.Fields{
		"item":  item.ID,
		"price": item.Price,
	}).Info("purchase declined: insufficient funds")
	p.record(NotificationDTO{Kind: "insufficient_funds", ItemID: string(item.ID)})
}

func (p *RecordingPresenter) record(n NotificationDTO) {
	n.At = time.Now().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, n)
	if len(p.entries) > p.limit {
		p.entries = p.entries[len(p.entries)-p.limit:]
	}
}

// Notifications returns recorded notifications, oldest first.
func (p *RecordingPresenter) Notifications() []NotificationDTO {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]NotificationDTO{}, p.entries...)
}

// Count returns how many notifications of kind are still recorded.
func (p *RecordingPresenter) Count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fixline/fixline/internal/models"
	"gorm.io/gorm"
)

// Notifier pushes lifecycle announcements out through the adapter: new and
// overdue requests go to admins (and the broadcast channel when one is
// configured), status changes go to the requester. Best-effort: delivery
// failures are logged, not returned.
type Notifier struct {
	db      *gorm.DB
	adapter Adapter
	channel string
	now     func() time.Time
}

// NotifierOpts holds parameters for creating a Notifier.
type NotifierOpts struct {
	DB      *gorm.DB
	Adapter Adapter
	Channel string           // optional broadcast channel
	Now     func() time.Time // optional
}

// NewNotifier creates a Notifier.
func NewNotifier(opts NotifierOpts) (*Notifier, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: notifier: db is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: notifier: adapter is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Notifier{
		db:      opts.DB,
		adapter: opts.Adapter,
		channel: opts.Channel,
		now:     now,
	}, nil
}

// RequestCreated announces a new request to all admins.
func (n *Notifier) RequestCreated(req *models.Request) {
	text := fmt.Sprintf("New request:\n%s", FormatRequestLine(req))
	n.broadcast(text)
}

// RequestStatusChanged tells the requester their request moved, and mirrors
// the change to the broadcast channel.
func (n *Notifier) RequestStatusChanged(req *models.Request, oldStatus string, actor *models.User) {
	text := FormatStatusChange(req, oldStatus)
	n.sendTo(req.User.PlatformID, text)
	if n.channel != "" {
		n.sendTo(n.channel, text)
	}
}

// RequestOverdue alerts admins about a high-priority request past the SLA.
func (n *Notifier) RequestOverdue(req *models.Request) {
	n.broadcast(FormatOverdue(req, n.now()))
}

// Digest sends pre-formatted digest text to all admins.
func (n *Notifier) Digest(text string) {
	n.broadcast(text)
}

// broadcast delivers text to every active admin and the channel, if set.
func (n *Notifier) broadcast(text string) {
	var admins []models.User
	if err := n.db.
		Where("role = ? AND is_active = ?", models.RoleAdmin, true).
		Find(&admins).Error; err != nil {
		log.Printf("bot: notifier: list admins: %v", err)
		return
	}
	for _, admin := range admins {
		n.sendTo(admin.PlatformID, text)
	}
	if n.channel != "" {
		n.sendTo(n.channel, text)
	}
}

func (n *Notifier) sendTo(convID, text string) {
	err := n.adapter.Send(context.Background(), OutboundMessage{
		ConversationID: convID,
		Text:           text,
	})
	if err != nil {
		log.Printf("bot: notifier: send to %s: %v", convID, err)
	}
}

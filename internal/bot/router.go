package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/fixline/fixline/internal/intake"
	"github.com/fixline/fixline/internal/models"
	"github.com/fixline/fixline/internal/ticket"
)

// Router classifies inbound chat messages and routes them to the
// appropriate handler: the intake flow for a draft in progress, the command
// handler for slash commands, or ignore for bot/unknown messages.
type Router struct {
	flow       *intake.Flow
	cmdHandler *CommandHandler
	tickets    *ticket.Service
	adapter    Adapter
	botUserID  string // the bot's own user ID (to filter self-messages)
	out        io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Flow       *intake.Flow
	CmdHandler *CommandHandler
	Tickets    *ticket.Service
	Adapter    Adapter
	BotUserID  string    // bot's user ID for self-message filtering
	Out        io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Flow == nil {
		return nil, fmt.Errorf("bot: router: intake flow is required")
	}
	if opts.CmdHandler == nil {
		return nil, fmt.Errorf("bot: router: command handler is required")
	}
	if opts.Tickets == nil {
		return nil, fmt.Errorf("bot: router: ticket service is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		flow:       opts.Flow,
		cmdHandler: opts.CmdHandler,
		tickets:    opts.Tickets,
		adapter:    opts.Adapter,
		botUserID:  opts.BotUserID,
		out:        out,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Deactivated user → refusal
//  3. /new, /cancel → intake flow start/cancel
//  4. /attach → photo onto an existing request
//  5. Other slash command → command handler
//  6. Active draft in this conversation → intake flow
//  7. Everything else → usage hint
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}

	user, err := r.tickets.GetOrCreateUser(msg.UserID, msg.UserName, msg.FirstName, msg.LastName)
	if err != nil {
		log.Printf("bot: router: resolve user %s: %v", msg.UserID, err)
		return
	}
	if !user.IsActive {
		r.send(ctx, OutboundMessage{
			ConversationID: msg.ConversationID,
			Text:           "Your account is deactivated. Contact an administrator.",
		})
		return
	}

	text := strings.TrimSpace(msg.Text)
	fmt.Fprintf(r.out, "bot: router: recv [conv=%s user=%s] %q\n",
		msg.ConversationID, msg.UserName, truncate(text, 80))

	cmd := firstWord(text)
	switch {
	case cmd == "/new":
		r.sendReply(ctx, msg.ConversationID, r.flow.Start(msg.ConversationID, user))
		return
	case cmd == "/cancel":
		r.sendReply(ctx, msg.ConversationID, r.flow.Cancel(msg.ConversationID))
		return
	case cmd == "/attach":
		r.handleAttach(ctx, msg, user)
		return
	case strings.HasPrefix(cmd, "/"):
		resp := r.cmdHandler.Execute(user, text)
		r.send(ctx, OutboundMessage{
			ConversationID: msg.ConversationID,
			Text:           resp.Text,
			Document:       resp.Document,
		})
		return
	}

	if r.flow.Active(msg.ConversationID) || msg.Choice != "" {
		reply, err := r.flow.Handle(msg.ConversationID, user, intake.Message{
			Text:   text,
			Choice: msg.Choice,
			Media:  msg.Media,
		})
		if err != nil {
			log.Printf("bot: router: intake: %v", err)
		}
		r.sendReply(ctx, msg.ConversationID, reply)
		return
	}

	r.send(ctx, OutboundMessage{
		ConversationID: msg.ConversationID,
		Text:           "Send /new to file a maintenance request, or /help for commands.",
	})
}

// handleAttach records the message's media against an existing request.
// Attach lives on the router rather than the command handler because the
// command handler only sees text.
func (r *Router) handleAttach(ctx context.Context, msg InboundMessage, user *models.User) {
	reply := func(text string) {
		r.send(ctx, OutboundMessage{ConversationID: msg.ConversationID, Text: text})
	}

	fields := strings.Fields(msg.Text)
	if len(fields) < 2 {
		reply("Usage: /attach <id>, with the photo in the same message.")
		return
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "#"), 10, 32)
	if err != nil {
		reply("Usage: /attach <id>, with the photo in the same message.")
		return
	}
	if len(msg.Media) == 0 {
		reply("Send the photo in the same message as /attach.")
		return
	}

	for _, m := range msg.Media {
		_, err = r.tickets.AttachFile(uint(id), user, models.File{
			FileRef:  m.Ref,
			FileType: m.Type,
			FileName: m.Name,
		})
		if err != nil {
			break
		}
	}
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		reply("No such request.")
	case errors.Is(err, ticket.ErrForbidden):
		reply("You can only attach photos to your own requests.")
	case err != nil:
		log.Printf("bot: router: attach: %v", err)
		reply("Couldn't attach that right now. Try again later.")
	default:
		reply(fmt.Sprintf("Attached to request #%d.", id))
	}
}

// sendReply maps an intake reply to an outbound message.
func (r *Router) sendReply(ctx context.Context, convID string, reply intake.Reply) {
	if reply.Text == "" {
		return
	}
	r.send(ctx, OutboundMessage{
		ConversationID: convID,
		Text:           reply.Text,
		Choices:        reply.Choices,
	})
}

func (r *Router) send(ctx context.Context, msg OutboundMessage) {
	if err := r.adapter.Send(ctx, msg); err != nil {
		log.Printf("bot: router: send: %v", err)
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

func firstWord(text string) string {
	if fields := strings.Fields(text); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

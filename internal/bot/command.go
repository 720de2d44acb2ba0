package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fixline/fixline/internal/analytics"
	"github.com/fixline/fixline/internal/export"
	"github.com/fixline/fixline/internal/models"
	"github.com/fixline/fixline/internal/ticket"
	"github.com/fixline/fixline/internal/validate"
)

// Response is a command handler result: reply text plus an optional file.
type Response struct {
	Text     string
	Document *Document
}

// CommandHandler processes slash commands from chat. Intake-related
// commands (/new, /cancel) are handled by the Router; everything here acts
// on existing requests or reads aggregates.
type CommandHandler struct {
	tickets      *ticket.Service
	stats        *analytics.Service
	overdueAfter time.Duration
	now          func() time.Time
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Tickets      *ticket.Service
	Stats        *analytics.Service
	OverdueAfter time.Duration    // optional; defaults to 48h
	Now          func() time.Time // optional
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Tickets == nil {
		return nil, fmt.Errorf("bot: command handler: ticket service is required")
	}
	if opts.Stats == nil {
		return nil, fmt.Errorf("bot: command handler: analytics service is required")
	}
	overdue := opts.OverdueAfter
	if overdue <= 0 {
		overdue = 48 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &CommandHandler{
		tickets:      opts.Tickets,
		stats:        opts.Stats,
		overdueAfter: overdue,
		now:          now,
	}, nil
}

// Execute parses and runs a slash command on behalf of user. Returns the
// response to send back to the same conversation.
func (ch *CommandHandler) Execute(user *models.User, text string) Response {
	args := strings.Fields(strings.TrimSpace(text))
	if len(args) == 0 {
		return Response{Text: ch.helpText(user)}
	}

	cmd := strings.TrimPrefix(args[0], "/")
	args = args[1:]

	switch cmd {
	case "start", "help":
		return Response{Text: ch.helpText(user)}
	case "my":
		return ch.cmdMy(user)
	case "request", "show":
		return ch.cmdShow(user, args)
	case "comment":
		return ch.cmdComment(user, args)
	case "queue":
		return ch.cmdQueue(user)
	case "archive":
		return ch.cmdArchive(user)
	case "take":
		return ch.transitionCmd(user, args, "take")
	case "done", "complete":
		return ch.transitionCmd(user, args, "done")
	case "reject":
		return ch.cmdReject(user, args)
	case "priority":
		return ch.cmdPriority(user, args)
	case "stats":
		return ch.cmdStats(user)
	case "export":
		return ch.cmdExport(user)
	default:
		return Response{Text: fmt.Sprintf("Unknown command /%s.\n\n%s", cmd, ch.helpText(user))}
	}
}

// cmdMy lists the user's own requests.
func (ch *CommandHandler) cmdMy(user *models.User) Response {
	reqs, err := ch.tickets.ForUser(user.ID)
	if err != nil {
		return errResponse(err)
	}
	return Response{Text: FormatQueue("Your requests", reqs)}
}

// cmdShow renders one request in full. Requesters may only view their own.
func (ch *CommandHandler) cmdShow(user *models.User, args []string) Response {
	id, resp, ok := parseID(args, "/request <id>")
	if !ok {
		return resp
	}
	req, err := ch.tickets.ByID(id)
	if err != nil {
		return errResponse(err)
	}
	if !user.IsAdmin() && req.UserID != user.ID {
		return Response{Text: "You can only view your own requests."}
	}
	return Response{Text: FormatRequestDetail(req)}
}

// cmdComment appends a comment. Requesters may only comment on their own.
func (ch *CommandHandler) cmdComment(user *models.User, args []string) Response {
	if len(args) < 2 {
		return Response{Text: "Usage: /comment <id> <text>"}
	}
	id, resp, ok := parseID(args[:1], "/comment <id> <text>")
	if !ok {
		return resp
	}
	req, err := ch.tickets.ByID(id)
	if err != nil {
		return errResponse(err)
	}
	if !user.IsAdmin() && req.UserID != user.ID {
		return Response{Text: "You can only comment on your own requests."}
	}
	if _, err := ch.tickets.AddComment(id, user, strings.Join(args[1:], " ")); err != nil {
		return errResponse(err)
	}
	return Response{Text: fmt.Sprintf("Comment added to #%d.", id)}
}

// cmdQueue lists active requests in triage order.
func (ch *CommandHandler) cmdQueue(user *models.User) Response {
	if !user.IsAdmin() {
		return forbidden()
	}
	reqs, err := ch.tickets.Triage()
	if err != nil {
		return errResponse(err)
	}
	return Response{Text: FormatQueue("Triage queue", reqs)}
}

// cmdArchive lists recently completed requests.
func (ch *CommandHandler) cmdArchive(user *models.User) Response {
	if !user.IsAdmin() {
		return forbidden()
	}
	reqs, err := ch.tickets.Archive(0)
	if err != nil {
		return errResponse(err)
	}
	return Response{Text: FormatQueue("Archive", reqs)}
}

// transitionCmd handles /take and /done.
func (ch *CommandHandler) transitionCmd(user *models.User, args []string, verb string) Response {
	usage := fmt.Sprintf("/%s <id>", verb)
	id, resp, ok := parseID(args, usage)
	if !ok {
		return resp
	}

	var req *models.Request
	var err error
	switch verb {
	case "take":
		req, err = ch.tickets.Take(id, user)
	case "done":
		req, err = ch.tickets.Complete(id, user)
	}
	if err != nil {
		return errResponse(err)
	}
	return Response{Text: fmt.Sprintf("#%d is now %s.", req.ID, StatusLabel(req.Status))}
}

// cmdReject rejects a request with an optional reason.
func (ch *CommandHandler) cmdReject(user *models.User, args []string) Response {
	id, resp, ok := parseID(args, "/reject <id> [reason]")
	if !ok {
		return resp
	}
	reason := ""
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	req, err := ch.tickets.Reject(id, user, reason)
	if err != nil {
		return errResponse(err)
	}
	return Response{Text: fmt.Sprintf("#%d rejected.", req.ID)}
}

// cmdPriority changes a request's priority.
func (ch *CommandHandler) cmdPriority(user *models.User, args []string) Response {
	if len(args) != 2 {
		return Response{Text: "Usage: /priority <id> <high|medium|low>"}
	}
	id, resp, ok := parseID(args[:1], "/priority <id> <high|medium|low>")
	if !ok {
		return resp
	}
	req, err := ch.tickets.SetPriority(id, user, strings.ToLower(args[1]))
	if err != nil {
		return errResponse(err)
	}
	return Response{Text: fmt.Sprintf("#%d priority set to %s.", req.ID, PriorityLabel(req.Priority))}
}

// cmdStats renders the analytics summary.
func (ch *CommandHandler) cmdStats(user *models.User) Response {
	if !user.IsAdmin() {
		return forbidden()
	}
	sum, err := ch.stats.Summarize(ch.overdueAfter)
	if err != nil {
		return errResponse(err)
	}
	return Response{Text: FormatSummary(sum)}
}

// cmdExport builds a CSV of all requests and attaches it as a document.
func (ch *CommandHandler) cmdExport(user *models.User) Response {
	if !user.IsAdmin() {
		return forbidden()
	}
	reqs, err := ch.tickets.List(ticket.Filter{})
	if err != nil {
		return errResponse(err)
	}
	data, err := export.RequestsCSV(reqs)
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Text:     fmt.Sprintf("Export of %d requests.", len(reqs)),
		Document: &Document{Name: export.FileName(ch.now()), Data: data},
	}
}

// helpText returns usage information appropriate to the user's role.
func (ch *CommandHandler) helpText(user *models.User) string {
	base := "Fixline commands\n" +
		"/new — file a maintenance request\n" +
		"/cancel — discard the request you're filing\n" +
		"/my — your requests\n" +
		"/request <id> — request details\n" +
		"/comment <id> <text> — add a comment\n" +
		"/attach <id> — add a photo to one of your requests\n" +
		"/help — this message"
	if !user.IsAdmin() {
		return base
	}
	return base + "\n\nAdmin commands\n" +
		"/queue — active requests in triage order\n" +
		"/archive — recently completed requests\n" +
		"/take <id> — take a request\n" +
		"/done <id> — mark completed\n" +
		"/reject <id> [reason] — reject\n" +
		"/priority <id> <high|medium|low> — reprioritize\n" +
		"/stats — backlog metrics\n" +
		"/export — CSV of all requests"
}

// parseID extracts a numeric request ID from the first argument.
func parseID(args []string, usage string) (uint, Response, bool) {
	if len(args) == 0 {
		return 0, Response{Text: "Usage: " + usage}, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 10, 32)
	if err != nil {
		return 0, Response{Text: "Usage: " + usage}, false
	}
	return uint(n), Response{}, true
}

func forbidden() Response {
	return Response{Text: "That command is for admins."}
}

// errResponse maps service errors to user-facing replies.
func errResponse(err error) Response {
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		return Response{Text: "No such request."}
	case errors.Is(err, ticket.ErrNotActionable):
		return Response{Text: "That request can't change that way from its current status."}
	case errors.Is(err, ticket.ErrForbidden):
		return forbidden()
	}
	if rle, ok := ticket.IsRateLimited(err); ok {
		return Response{Text: fmt.Sprintf("Slow down. Try again in %s.", rle.RetryAfter.Round(time.Second))}
	}
	var verr *validate.Error
	if errors.As(err, &verr) {
		return Response{Text: "That didn't pass validation: " + verr.Reason + "."}
	}
	return Response{Text: "Something went wrong, try again later."}
}

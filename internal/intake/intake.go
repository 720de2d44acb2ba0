// Package intake implements the conversational flow that walks a requester
// through filing a maintenance request: a short description, optional extra
// details (location, notes, photos), and a priority. One draft exists per
// conversation; drafts live in memory and expire after a TTL.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fixline/fixline/internal/models"
	"github.com/fixline/fixline/internal/ticket"
	"github.com/fixline/fixline/internal/validate"
)

// Step identifies where a draft is in the flow.
type Step string

const (
	StepDescription Step = "description"
	StepAdditional  Step = "additional"
	StepCapture     Step = "capture"
	StepLocation    Step = "location"
	StepNote        Step = "note"
	StepPriority    Step = "priority"
)

// ErrDraftCorrupted means a draft's recorded step is not one the flow knows.
// The draft is discarded and the requester must start over.
var ErrDraftCorrupted = errors.New("intake: draft state corrupted")

// DefaultDraftTTL bounds how long an idle draft survives.
const DefaultDraftTTL = time.Hour

// PhotoOnlyDescription stands in for the description when the requester
// sends a photo without a caption.
const PhotoOnlyDescription = "Photo without description"

// MediaRef is a platform attachment reference captured during intake.
type MediaRef struct {
	Ref  string
	Type string
	Name string
}

// Message is one inbound requester message, normalized by the bot layer.
// Choice is set when the platform delivered a button press; otherwise the
// flow matches Text against the offered choice keys.
type Message struct {
	Text   string
	Choice string
	Media  []MediaRef
}

// Choice is one offered reply option.
type Choice struct {
	Key   string
	Label string
}

// Reply is the flow's answer to one message. Created is set when the flow
// finished and the request was filed; Done is also true on cancellation
// and expiry.
type Reply struct {
	Text    string
	Choices []Choice
	Created *models.Request
	Done    bool
}

type draft struct {
	step        Step
	userID      uint
	description string
	notes       []string
	location    string
	files       []models.File
	updatedAt   time.Time
}

// Flow holds all live drafts and drives them against the ticket service.
type Flow struct {
	mu      sync.Mutex
	drafts  map[string]*draft
	tickets *ticket.Service
	ttl     time.Duration
	now     func() time.Time
}

// Opts holds parameters for creating a Flow.
type Opts struct {
	Tickets *ticket.Service
	TTL     time.Duration    // optional; defaults to DefaultDraftTTL
	Now     func() time.Time // optional
}

// New creates a Flow.
func New(opts Opts) (*Flow, error) {
	if opts.Tickets == nil {
		return nil, fmt.Errorf("intake: ticket service is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Flow{
		drafts:  make(map[string]*draft),
		tickets: opts.Tickets,
		ttl:     ttl,
		now:     now,
	}, nil
}

// Active reports whether a draft exists for the conversation.
func (f *Flow) Active(convID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[convID]
	return ok && f.now().Sub(d.updatedAt) <= f.ttl
}

// Start begins (or restarts) a draft for the conversation.
func (f *Flow) Start(convID string, user *models.User) Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[convID] = &draft{
		step:      StepDescription,
		userID:    user.ID,
		updatedAt: f.now(),
	}
	return Reply{Text: "What needs fixing? Describe the problem in a sentence or two."}
}

// Cancel discards the conversation's draft, if any.
func (f *Flow) Cancel(convID string) Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.drafts[convID]; !ok {
		return Reply{Text: "Nothing to cancel.", Done: true}
	}
	delete(f.drafts, convID)
	return Reply{Text: "Request cancelled. Nothing was filed.", Done: true}
}

// Handle advances the conversation's draft with one message. A "cancel"
// message discards the draft at any step. A validation failure re-prompts
// without advancing.
func (f *Flow) Handle(convID string, user *models.User, msg Message) (Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.drafts[convID]
	if !ok {
		return Reply{Text: "No request in progress. Send /new to start one.", Done: true}, nil
	}
	if f.now().Sub(d.updatedAt) > f.ttl {
		delete(f.drafts, convID)
		return Reply{Text: "Your draft expired. Send /new to start over.", Done: true}, nil
	}

	if strings.EqualFold(strings.TrimSpace(msg.Text), "cancel") || msg.Choice == "cancel" {
		delete(f.drafts, convID)
		return Reply{Text: "Request cancelled. Nothing was filed.", Done: true}, nil
	}

	d.updatedAt = f.now()

	switch d.step {
	case StepDescription:
		return f.handleDescription(d, msg), nil
	case StepAdditional:
		return f.handleAdditional(d, msg), nil
	case StepCapture:
		return f.handleCapture(d, msg), nil
	case StepLocation:
		return f.handleLocation(d, msg), nil
	case StepNote:
		return f.handleNote(d, msg), nil
	case StepPriority:
		return f.handlePriority(convID, d, user, msg)
	default:
		delete(f.drafts, convID)
		return Reply{Text: "Something went wrong with your draft. Send /new to start over.", Done: true},
			fmt.Errorf("%w: step %q", ErrDraftCorrupted, d.step)
	}
}

// PruneExpired drops drafts idle past the TTL. Intended to run from the
// daemon's sweep loop.
func (f *Flow) PruneExpired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	pruned := 0
	for id, d := range f.drafts {
		if f.now().Sub(d.updatedAt) > f.ttl {
			delete(f.drafts, id)
			pruned++
		}
	}
	return pruned
}

func (f *Flow) handleDescription(d *draft, msg Message) Reply {
	// Turn the user away before they invest in the rest of the flow. The
	// attempt is recorded at creation, not here.
	if ok, retry := f.tickets.CreateAllowed(d.userID); !ok {
		return Reply{Text: fmt.Sprintf("You've filed too many requests recently. Try again in %s.",
			retry.Round(time.Second))}
	}
	desc, err := validate.DraftDescription(validate.Sanitize(msg.Text))
	if err != nil {
		if len(msg.Media) == 0 {
			return Reply{Text: "That description is too short. A few words will do, try again."}
		}
		// A photo with no usable caption still files; the photo is the report.
		desc = PhotoOnlyDescription
	}
	d.description = desc
	d.files = append(d.files, toFiles(msg.Media)...)
	d.step = StepAdditional
	return Reply{
		Text:    "Got it. Want to add a location, notes, or photos?",
		Choices: yesNo(),
	}
}

func (f *Flow) handleAdditional(d *draft, msg Message) Reply {
	switch choiceOf(msg, "yes", "no") {
	case "yes":
		d.step = StepCapture
		return captureMenu("What would you like to add?")
	case "no":
		d.step = StepPriority
		return priorityPrompt()
	default:
		return Reply{
			Text:    "Please answer yes or no. Want to add a location, notes, or photos?",
			Choices: yesNo(),
		}
	}
}

func (f *Flow) handleCapture(d *draft, msg Message) Reply {
	// A photo sent directly at the menu attaches without a menu choice.
	if len(msg.Media) > 0 {
		d.files = append(d.files, toFiles(msg.Media)...)
		return captureMenu("Photo attached. Anything else?")
	}
	switch choiceOf(msg, "location", "note", "done") {
	case "location":
		d.step = StepLocation
		return Reply{Text: "Where is the problem? (room, floor, building)"}
	case "note":
		d.step = StepNote
		return Reply{Text: "Go ahead, what else should we know?"}
	case "done":
		d.step = StepPriority
		return priorityPrompt()
	default:
		return captureMenu("Pick one of the options below, or send a photo.")
	}
}

func (f *Flow) handleLocation(d *draft, msg Message) Reply {
	loc, err := validate.Location(msg.Text)
	if err != nil {
		return Reply{Text: "That location doesn't look right. Use between 2 and 100 characters."}
	}
	d.location = loc
	d.step = StepCapture
	return captureMenu("Location saved. Anything else?")
}

func (f *Flow) handleNote(d *draft, msg Message) Reply {
	note := validate.Sanitize(msg.Text)
	if note == "" && len(msg.Media) == 0 {
		return Reply{Text: "Send the extra details as text, or a photo."}
	}
	if note != "" {
		if combinedLen(d.description, append(d.notes, note)) > validate.DescriptionMax {
			return Reply{Text: "That makes the request too long. Try a shorter note."}
		}
		d.notes = append(d.notes, note)
	}
	d.files = append(d.files, toFiles(msg.Media)...)
	d.step = StepCapture
	return captureMenu("Noted. Anything else?")
}

func (f *Flow) handlePriority(convID string, d *draft, user *models.User, msg Message) (Reply, error) {
	priority := choiceOf(msg, models.PriorityHigh, models.PriorityMedium, models.PriorityLow)
	if priority == "" {
		return priorityPrompt(), nil
	}

	// A draft reaching this step without a description indicates a bug, not
	// user error. Discard it rather than filing a malformed request.
	if d.description == "" {
		delete(f.drafts, convID)
		return Reply{Text: "Something went wrong with your draft. Send /new to start over.", Done: true},
			fmt.Errorf("%w: empty description at priority step", ErrDraftCorrupted)
	}

	desc := d.description
	for _, n := range d.notes {
		desc += "\n" + n
	}

	req, err := f.tickets.Create(ticket.CreateInput{
		User:        user,
		Description: desc,
		Location:    d.location,
		Priority:    priority,
		Files:       d.files,
	})
	if err != nil {
		if rle, ok := ticket.IsRateLimited(err); ok {
			delete(f.drafts, convID)
			return Reply{
				Text: fmt.Sprintf("You've filed too many requests recently. Try again in %s.",
					rle.RetryAfter.Round(time.Second)),
				Done: true,
			}, nil
		}
		var verr *validate.Error
		if errors.As(err, &verr) {
			return Reply{Text: "The request didn't pass validation: " + verr.Reason + ". Adjust and pick a priority again.", Choices: priorityChoices()}, nil
		}
		return Reply{}, err
	}

	delete(f.drafts, convID)
	return Reply{
		Text:    fmt.Sprintf("Request #%d filed. We'll let you know when its status changes.", req.ID),
		Created: req,
		Done:    true,
	}, nil
}

// choiceOf resolves the message to one of the offered keys, accepting either
// a button press or a matching text reply.
func choiceOf(msg Message, keys ...string) string {
	candidate := msg.Choice
	if candidate == "" {
		candidate = strings.ToLower(strings.TrimSpace(msg.Text))
	}
	for _, k := range keys {
		if candidate == k {
			return k
		}
	}
	return ""
}

func combinedLen(desc string, notes []string) int {
	n := len([]rune(desc))
	for _, note := range notes {
		n += 1 + len([]rune(note))
	}
	return n
}

func toFiles(media []MediaRef) []models.File {
	files := make([]models.File, 0, len(media))
	for _, m := range media {
		ft := m.Type
		if ft == "" {
			ft = models.FileTypePhoto
		}
		files = append(files, models.File{FileRef: m.Ref, FileType: ft, FileName: m.Name})
	}
	return files
}

func yesNo() []Choice {
	return []Choice{{Key: "yes", Label: "Yes"}, {Key: "no", Label: "No"}}
}

func captureMenu(text string) Reply {
	return Reply{
		Text: text,
		Choices: []Choice{
			{Key: "location", Label: "Add location"},
			{Key: "note", Label: "Add note"},
			{Key: "done", Label: "Done"},
		},
	}
}

func priorityChoices() []Choice {
	return []Choice{
		{Key: models.PriorityHigh, Label: "High"},
		{Key: models.PriorityMedium, Label: "Medium"},
		{Key: models.PriorityLow, Label: "Low"},
	}
}

func priorityPrompt() Reply {
	return Reply{Text: "How urgent is this?", Choices: priorityChoices()}
}

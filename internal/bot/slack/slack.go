// Package slack implements the bot Adapter for Slack using Socket Mode.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fixline/fixline/internal/bot"
	"github.com/fixline/fixline/internal/intake"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UploadFile(params slackapi.UploadFileParameters) (*slackapi.FileSummary, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements bot.Adapter for Slack Socket Mode.
type Adapter struct {
	client     slackClient
	socket     socketClient
	botUserID  string
	appToken   string
	botToken   string
	mu         sync.Mutex
	connected  bool
	closed     bool
	inbound    chan bot.InboundMessage
	cancelFunc context.CancelFunc
	userNames  map[string]string // user ID -> display name cache
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of the real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Adapter{
		client:    opts.Client,
		socket:    opts.Socket,
		appToken:  opts.AppToken,
		botToken:  opts.BotToken,
		inbound:   make(chan bot.InboundMessage, 100),
		userNames: make(map[string]string),
	}, nil
}

// Connect establishes the Socket Mode WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	log.Printf("slack: connected as %s (ID: %s)", auth.User, auth.UserID)

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send delivers a message to Slack. Choices render as a textual option list
// since the intake flow accepts matching text replies.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	if msg.ConversationID == "" {
		return fmt.Errorf("slack: no conversation specified")
	}

	if msg.Document != nil {
		_, err := a.client.UploadFile(slackapi.UploadFileParameters{
			Filename:       msg.Document.Name,
			FileSize:       len(msg.Document.Data),
			Reader:         bytes.NewReader(msg.Document.Data),
			Channel:        msg.ConversationID,
			InitialComment: msg.Text,
		})
		if err != nil {
			return fmt.Errorf("slack: upload file: %w", err)
		}
		return nil
	}

	err := a.retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(msg.ConversationID,
			slackapi.MsgOptionText(renderText(msg), false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// runWithReconnect runs the socket client, reconnecting with exponential
// backoff until the context is cancelled or attempts are exhausted.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		err := a.socket.Run()
		if ctx.Err() != nil {
			return
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		log.Printf("slack: socket closed (%v), reconnecting in %v (attempt %d/%d)",
			err, wait, attempt+1, maxReconnectAttempts)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: giving up after %d reconnect attempts", maxReconnectAttempts)
}

// pumpEvents converts Socket Mode events to inbound messages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleEvent(evt)
		}
	}
}

// handleEvent acks and converts a single Socket Mode event.
func (a *Adapter) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}

	msgEvent, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || msgEvent.User == "" || msgEvent.BotID != "" {
		return
	}
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if msgEvent.User == botID {
		return
	}

	var files []slackapi.File
	if msgEvent.Message != nil {
		files = msgEvent.Message.Files
	}
	var media []intake.MediaRef
	for _, f := range files {
		ft := "document"
		if strings.HasPrefix(f.Mimetype, "image/") {
			ft = "photo"
		}
		media = append(media, intake.MediaRef{Ref: f.URLPrivate, Type: ft, Name: f.Name})
	}

	a.inbound <- bot.InboundMessage{
		Platform:       "slack",
		ConversationID: msgEvent.Channel,
		UserID:         msgEvent.User,
		UserName:       a.userName(msgEvent.User),
		Text:           msgEvent.Text,
		Media:          media,
		Timestamp:      time.Now(),
	}
}

// userName resolves and caches a Slack user's display name.
func (a *Adapter) userName(userID string) string {
	a.mu.Lock()
	if name, ok := a.userNames[userID]; ok {
		a.mu.Unlock()
		return name
	}
	a.mu.Unlock()

	info, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	name := info.Name
	a.mu.Lock()
	a.userNames[userID] = name
	a.mu.Unlock()
	return name
}

// renderText appends the choice keys as a reply hint.
func renderText(msg bot.OutboundMessage) string {
	if len(msg.Choices) == 0 {
		return msg.Text
	}
	keys := make([]string, 0, len(msg.Choices))
	for _, c := range msg.Choices {
		keys = append(keys, c.Key)
	}
	return msg.Text + "\nReply with: " + strings.Join(keys, " / ")
}

// retryOnRateLimit calls fn and retries with exponential backoff on Slack
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		rateErr, ok := err.(*slackapi.RateLimitedError)
		if !ok {
			return err // not a rate limit error
		}
		if attempt == maxRetries {
			return err
		}

		wait := rateErr.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		}
		log.Printf("slack: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

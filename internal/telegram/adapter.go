package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/bedtime/internal/query"
	"github.com/user/bedtime/internal/ratelimit"
	"github.com/user/bedtime/internal/story"
	"github.com/user/bedtime/internal/types"
)

const maxTelegramMessage = 4096

const usage = `Send /story <age> <theme> [what the story should be about]
Example: /story 5 dragons a shy dragon who learns to fly

Other commands:
/mystories - your saved stories
/help - this message`

// Stories is the part of the story service the bot uses.
type Stories interface {
	Generate(ctx context.Context, in story.GenerateInput) (*story.Result, error)
	GenerateAudio(ctx context.Context, in story.AudioInput) (string, error)
	List(ctx context.Context, f query.Filter) (query.Result, error)
}

// sender is satisfied by *tgbotapi.BotAPI.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter serves story commands over Telegram.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	send    sender
	stories Stories
	limiter *ratelimit.Limiter
	audio   bool
}

// New creates a Telegram adapter. When audio is set every generated story
// is also narrated and sent as an audio message.
func New(token string, stories Stories, limiter *ratelimit.Limiter, audio bool) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, stories, limiter, audio)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, stories Stories, limiter *ratelimit.Limiter, audio bool) *Adapter {
	if limiter == nil {
		limiter = ratelimit.New(nil, nil)
	}
	return &Adapter{send: s, stories: stories, limiter: limiter, audio: audio}
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !msg.IsCommand() {
		a.sendResponse(chatID, usage)
		return
	}

	switch msg.Command() {
	case "start", "help":
		a.sendResponse(chatID, "Hello! I write bedtime stories.\n\n"+usage)
	case "story":
		a.handleStory(ctx, msg)
	case "mystories":
		a.handleMyStories(ctx, msg)
	default:
		a.sendResponse(chatID, "Unknown command. Available: /story, /mystories, /help")
	}
}

// storyArgs parses "<age> <theme> [prompt...]".
func storyArgs(args string) (types.GenerationRequest, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return types.GenerationRequest{}, fmt.Errorf("%w: need an age and a theme", types.ErrInvalidInput)
	}
	age, err := strconv.Atoi(fields[0])
	if err != nil || age <= 0 {
		return types.GenerationRequest{}, fmt.Errorf("%w: age must be a positive number", types.ErrInvalidInput)
	}
	req := types.GenerationRequest{Age: age, Theme: fields[1], Prompt: strings.Join(fields[2:], " ")}
	if req.Prompt == "" {
		req.Prompt = "a bedtime story about " + req.Theme
	}
	return req, nil
}

func (a *Adapter) handleStory(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	req, err := storyArgs(msg.CommandArguments())
	if err != nil {
		a.sendResponse(chatID, usage)
		return
	}

	key := string(types.NewClientKey("telegram", strconv.FormatInt(chatID, 10)))
	if !a.limiter.Admit(ratelimit.General, key) || !a.limiter.Admit(ratelimit.Generation, key) {
		wait := a.limiter.RetryAfter(ratelimit.Generation)
		a.sendResponse(chatID, fmt.Sprintf("That's a lot of stories! Please wait %s and try again.", wait))
		return
	}

	res, err := a.stories.Generate(ctx, story.GenerateInput{
		GenerationRequest: req,
		OwnerID:           ownerID(msg),
		Save:              true,
	})
	if err != nil {
		slog.Error("telegram story generation failed", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I couldn't write a story right now.")
		return
	}
	rec := res.Record
	a.sendResponse(chatID, fmt.Sprintf("%s\n\n%s", rec.Metadata.Title, rec.Text))

	if !a.audio || res.Fallback {
		return
	}
	url, err := a.stories.GenerateAudio(ctx, story.AudioInput{StoryID: rec.ID})
	if err != nil {
		slog.Warn("telegram narration failed", "story_id", rec.ID, "error", err)
		if !errors.Is(err, context.Canceled) {
			a.sendResponse(chatID, "The story is ready, but I couldn't record the narration.")
		}
		return
	}
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FileURL(url))
	audio.Title = rec.Metadata.Title
	if _, err := a.send.Send(audio); err != nil {
		slog.Warn("send audio failed", "story_id", rec.ID, "error", err)
		a.sendResponse(chatID, "Listen here: "+url)
	}
}

func (a *Adapter) handleMyStories(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	res, err := a.stories.List(ctx, query.Filter{OwnerID: ownerID(msg), PageSize: 20})
	if err != nil {
		slog.Error("telegram list stories failed", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, "Error fetching your stories.")
		return
	}
	if len(res.Stories) == 0 {
		a.sendResponse(chatID, "You have no stories yet. Try /story 5 dragons")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your stories (%d):\n", res.Total)
	for _, rec := range res.Stories {
		fmt.Fprintf(&b, "- %s (age %d, %s)\n", rec.Metadata.Title, rec.Metadata.Age, rec.Metadata.Theme)
	}
	a.sendResponse(chatID, b.String())
}

func ownerID(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return string(types.NewClientKey("telegram", strconv.FormatInt(msg.Chat.ID, 10)))
	}
	return string(types.NewClientKey("telegram", strconv.FormatInt(msg.From.ID, 10)))
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.send.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				slog.Error("send message error", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into Telegram-sized parts, preferring line breaks
// and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := strings.LastIndexByte(text[:maxTelegramMessage], '\n')
		if end <= 0 {
			end = maxTelegramMessage
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		parts = append(parts, text[:end])
		text = strings.TrimPrefix(text[end:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

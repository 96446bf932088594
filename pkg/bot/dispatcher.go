// Package bot routes normalized inbound messages: authorization-gated
// admin commands first, then general commands, then the free-text voice
// reply path.
package bot

import (
	"context"
	"strings"

	"github.com/tinyland-inc/govorun/pkg/logger"
	"github.com/tinyland-inc/govorun/pkg/store"
	"github.com/tinyland-inc/govorun/pkg/vk"
)

// UserStore is the persistence surface the dispatcher needs. *store.Store
// satisfies it.
type UserStore interface {
	GetByExternalID(externalID int64) (*store.User, error)
	Add(externalID int64, firstName, lastName string, gender int) (*store.User, error)
	Block(externalID int64) (bool, error)
	Unblock(externalID int64) (bool, error)
	IsBlocked(externalID int64) (bool, error)
	IsAdmin(externalID int64) (bool, error)
	AddAdmin(externalID int64) error
	ListUsers(f store.Filters) ([]store.User, error)
	ListAdmins() ([]store.Admin, error)
}

// VoiceGenerator produces audio for cleaned-up free text.
type VoiceGenerator interface {
	Generate(ctx context.Context, text string) ([]byte, error)
}

type Dispatcher struct {
	transport vk.Transport
	users     UserStore
	voice     VoiceGenerator
	admin     *AdminHandler
}

func NewDispatcher(transport vk.Transport, users UserStore, voice VoiceGenerator) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		users:     users,
		voice:     voice,
		admin:     NewAdminHandler(transport, users),
	}
}

// Route consumes one message. Precedence: blocked senders are dropped
// before any command parsing; commands go to the admin handler only for
// authorized admins and otherwise fall through to general handling;
// everything else is voiced. Route never returns an error: every
// failure is either logged or turned into a reply.
func (d *Dispatcher) Route(ctx context.Context, msg vk.Message) {
	logger.InfoCF("dispatcher", "Message received", map[string]any{
		"sender": msg.SenderID,
		"chars":  len(msg.Text),
	})

	d.ensureUserExists(ctx, msg.SenderID)

	blocked, err := d.users.IsBlocked(msg.SenderID)
	if err != nil {
		logger.ErrorCF("dispatcher", "Blocked check failed", map[string]any{
			"sender": msg.SenderID, "error": err.Error(),
		})
	}
	if blocked {
		logger.InfoCF("dispatcher", "Dropping message from blocked sender", map[string]any{
			"sender": msg.SenderID,
		})
		return
	}

	if msg.IsCommand() {
		d.routeCommand(ctx, msg)
		return
	}

	if strings.TrimSpace(msg.Text) == "" {
		d.reply(ctx, msg.SenderID, emptyTextReply())
		return
	}

	d.voiceReply(ctx, msg)
}

func (d *Dispatcher) routeCommand(ctx context.Context, msg vk.Message) {
	commandLine := strings.TrimPrefix(msg.Text, "/")
	if commandLine == "" {
		d.reply(ctx, msg.SenderID, unknownCommandReply(""))
		return
	}

	isAdmin, err := d.users.IsAdmin(msg.SenderID)
	if err != nil {
		logger.ErrorCF("dispatcher", "Admin check failed", map[string]any{
			"sender": msg.SenderID, "error": err.Error(),
		})
	}
	if isAdmin && d.admin.Handle(ctx, msg, commandLine) {
		return
	}

	// Non-admins and unmatched admin commands fall through here.
	name, _ := splitCommand(commandLine)
	switch name {
	case "start":
		d.reply(ctx, msg.SenderID, welcomeText())
	case "help":
		d.reply(ctx, msg.SenderID, helpText())
	default:
		logger.WarnCF("dispatcher", "Unknown command", map[string]any{
			"sender": msg.SenderID, "command": name,
		})
		d.reply(ctx, msg.SenderID, unknownCommandReply(name))
	}
}

// voiceReply runs the synthesis path: generate audio, upload it, send
// the attachment with empty text. Synthesis failure becomes a
// user-visible error reply, never a crash.
func (d *Dispatcher) voiceReply(ctx context.Context, msg vk.Message) {
	audio, err := d.voice.Generate(ctx, msg.Text)
	if err != nil {
		logger.ErrorCF("dispatcher", "Voice generation failed", map[string]any{
			"sender": msg.SenderID, "error": err.Error(),
		})
		d.reply(ctx, msg.SenderID, synthesisErrorReply(err))
		return
	}

	attachment, err := d.transport.UploadVoiceMessage(ctx, audio, msg.ConversationID)
	if err != nil {
		logger.ErrorCF("dispatcher", "Voice upload failed", map[string]any{
			"sender": msg.SenderID, "error": err.Error(),
		})
		d.reply(ctx, msg.SenderID, synthesisErrorReply(err))
		return
	}

	if err := d.transport.SendMessage(ctx, msg.SenderID, "", attachment); err != nil {
		logger.ErrorCF("dispatcher", "Voice send failed", map[string]any{
			"sender": msg.SenderID, "error": err.Error(),
		})
		return
	}

	logger.InfoCF("dispatcher", "Voice message delivered", map[string]any{
		"sender": msg.SenderID,
	})
}

// ensureUserExists lazily registers a first-contact sender: profile info
// is fetched from the transport and written to the store. Failure is
// logged and never blocks routing.
func (d *Dispatcher) ensureUserExists(ctx context.Context, senderID int64) {
	user, err := d.users.GetByExternalID(senderID)
	if err != nil {
		logger.ErrorCF("dispatcher", "User lookup failed", map[string]any{
			"sender": senderID, "error": err.Error(),
		})
		return
	}
	if user != nil {
		return
	}

	profiles, err := d.transport.GetUsers(ctx, []int64{senderID})
	if err != nil || len(profiles) == 0 {
		logger.WarnCF("dispatcher", "Could not fetch profile for new sender", map[string]any{
			"sender": senderID,
		})
		return
	}

	profile := profiles[0]
	firstName := profile.FirstName
	if firstName == "" {
		firstName = "Unknown"
	}
	if _, err := d.users.Add(senderID, firstName, profile.LastName, profile.Gender); err != nil {
		logger.ErrorCF("dispatcher", "User registration failed", map[string]any{
			"sender": senderID, "error": err.Error(),
		})
		return
	}
	logger.InfoCF("dispatcher", "New user registered", map[string]any{
		"sender": senderID, "name": firstName + " " + profile.LastName,
	})
}

func (d *Dispatcher) reply(ctx context.Context, recipientID int64, text string) {
	if err := d.transport.SendMessage(ctx, recipientID, text, ""); err != nil {
		logger.ErrorCF("dispatcher", "Reply failed", map[string]any{
			"recipient": recipientID, "error": err.Error(),
		})
	}
}

// splitCommand splits "name arg arg" into the lowercased name and the
// raw argument remainder.
func splitCommand(commandLine string) (name, args string) {
	fields := strings.SplitN(strings.TrimSpace(commandLine), " ", 2)
	name = strings.ToLower(fields[0])
	if len(fields) > 1 {
		args = strings.TrimSpace(fields[1])
	}
	return name, args
}

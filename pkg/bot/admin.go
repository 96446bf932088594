package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tinyland-inc/govorun/pkg/logger"
	"github.com/tinyland-inc/govorun/pkg/store"
	"github.com/tinyland-inc/govorun/pkg/vk"
)

// AdminHandler implements the administrative command set. The caller is
// responsible for authorization; Handle assumes the sender is an admin.
type AdminHandler struct {
	transport vk.Transport
	users     UserStore
}

func NewAdminHandler(transport vk.Transport, users UserStore) *AdminHandler {
	return &AdminHandler{transport: transport, users: users}
}

// Handle executes one admin command line (without the leading slash).
// It reports false when the name matches no admin command, letting the
// dispatcher fall through to general handling. Argument errors are
// answered with usage messages and still count as handled.
func (h *AdminHandler) Handle(ctx context.Context, msg vk.Message, commandLine string) bool {
	name, args := splitCommand(commandLine)

	switch name {
	case "block":
		h.handleBlock(ctx, msg, args)
	case "unblock":
		h.handleUnblock(ctx, msg, args)
	case "send":
		h.handleSend(ctx, msg, args)
	case "admin":
		h.handleAdmin(ctx, msg, args)
	case "stats":
		h.handleStats(ctx, msg)
	case "broadcast":
		h.handleBroadcast(ctx, msg, args)
	default:
		return false
	}
	return true
}

func (h *AdminHandler) reply(ctx context.Context, recipientID int64, text string) {
	if err := h.transport.SendMessage(ctx, recipientID, text, ""); err != nil {
		logger.ErrorCF("admin", "Reply failed", map[string]any{
			"recipient": recipientID, "error": err.Error(),
		})
	}
}

func parseExternalID(args string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) userLabel(externalID int64) string {
	user, err := h.users.GetByExternalID(externalID)
	if err != nil || user == nil {
		return fmt.Sprintf("ID %d", externalID)
	}
	return user.FullName()
}

func (h *AdminHandler) handleBlock(ctx context.Context, msg vk.Message, args string) {
	if args == "" {
		h.reply(ctx, msg.SenderID, "❌ Usage: /block <id>\nExample: /block 123456789")
		return
	}
	id, ok := parseExternalID(args)
	if !ok {
		h.reply(ctx, msg.SenderID, "❌ Invalid id format, a number is required.")
		return
	}
	if id == msg.SenderID {
		h.reply(ctx, msg.SenderID, "❌ You cannot block yourself.")
		return
	}
	if isAdmin, err := h.users.IsAdmin(id); err == nil && isAdmin {
		h.reply(ctx, msg.SenderID, "❌ You cannot block an admin.")
		return
	}

	ok, err := h.users.Block(id)
	if err != nil {
		logger.ErrorCF("admin", "Block failed", map[string]any{"target": id, "error": err.Error()})
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ Error: %v", err))
		return
	}
	if !ok {
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ No user with id %d.", id))
		return
	}
	h.reply(ctx, msg.SenderID, fmt.Sprintf("✅ %s (ID: %d) is now blocked.", h.userLabel(id), id))
}

func (h *AdminHandler) handleUnblock(ctx context.Context, msg vk.Message, args string) {
	if args == "" {
		h.reply(ctx, msg.SenderID, "❌ Usage: /unblock <id>\nExample: /unblock 123456789")
		return
	}
	id, ok := parseExternalID(args)
	if !ok {
		h.reply(ctx, msg.SenderID, "❌ Invalid id format, a number is required.")
		return
	}

	ok, err := h.users.Unblock(id)
	if err != nil {
		logger.ErrorCF("admin", "Unblock failed", map[string]any{"target": id, "error": err.Error()})
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ Error: %v", err))
		return
	}
	if !ok {
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ No user with id %d.", id))
		return
	}
	h.reply(ctx, msg.SenderID, fmt.Sprintf("✅ %s (ID: %d) is now unblocked.", h.userLabel(id), id))
}

func (h *AdminHandler) handleSend(ctx context.Context, msg vk.Message, args string) {
	usage := "❌ Usage: /send <id> <text>\nExample: /send 123456789 Hello!"
	if args == "" {
		h.reply(ctx, msg.SenderID, usage)
		return
	}
	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		h.reply(ctx, msg.SenderID, "❌ Message text is missing.")
		return
	}
	id, ok := parseExternalID(parts[0])
	if !ok {
		h.reply(ctx, msg.SenderID, "❌ Invalid id format, a number is required.")
		return
	}

	if err := h.transport.SendMessage(ctx, id, parts[1], ""); err != nil {
		logger.ErrorCF("admin", "Direct send failed", map[string]any{"target": id, "error": err.Error()})
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ Could not send the message: %v", err))
		return
	}
	h.reply(ctx, msg.SenderID, fmt.Sprintf("✅ Message sent to %s (ID: %d).", h.userLabel(id), id))
}

func (h *AdminHandler) handleAdmin(ctx context.Context, msg vk.Message, args string) {
	if args == "" {
		h.reply(ctx, msg.SenderID, "❌ Usage: /admin <id>\nExample: /admin 123456789")
		return
	}
	id, ok := parseExternalID(args)
	if !ok {
		h.reply(ctx, msg.SenderID, "❌ Invalid id format, a number is required.")
		return
	}

	if isAdmin, err := h.users.IsAdmin(id); err == nil && isAdmin {
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ User %d is already an admin.", id))
		return
	}
	if err := h.users.AddAdmin(id); err != nil {
		logger.ErrorCF("admin", "Admin promotion failed", map[string]any{"target": id, "error": err.Error()})
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ Error: %v", err))
		return
	}

	h.reply(ctx, msg.SenderID, fmt.Sprintf("✅ %s (ID: %d) is now an admin.", h.userLabel(id), id))
	h.reply(ctx, id, "👑 You are now a bot admin!\n\n"+
		"Commands:\n"+
		"/block <id> — block a user\n"+
		"/unblock <id> — unblock a user\n"+
		"/send <id> <text> — message any user\n"+
		"/admin <id> — promote an admin\n"+
		"/stats — bot statistics\n"+
		"/broadcast [filters] <text> — mass message")
}

func (h *AdminHandler) handleStats(ctx context.Context, msg vk.Message) {
	users, err := h.users.ListUsers(store.Filters{})
	if err != nil {
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ Could not read statistics: %v", err))
		return
	}
	admins, err := h.users.ListAdmins()
	if err != nil {
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ Could not read statistics: %v", err))
		return
	}

	var blocked, males, females int
	for _, u := range users {
		if u.Blocked {
			blocked++
		}
		if u.IsMale() {
			males++
		}
		if u.IsFemale() {
			females++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Bot statistics:\n\n")
	fmt.Fprintf(&sb, "👥 Users: %d\n", len(users))
	fmt.Fprintf(&sb, "🚫 Blocked: %d\n", blocked)
	fmt.Fprintf(&sb, "✅ Active: %d\n", len(users)-blocked)
	fmt.Fprintf(&sb, "👑 Admins: %d\n", len(admins))
	if len(users) > 0 {
		fmt.Fprintf(&sb, "\n👨 Male: %d\n👩 Female: %d\n❓ Unspecified: %d\n",
			males, females, len(users)-males-females)
	}
	h.reply(ctx, msg.SenderID, sb.String())
}

const broadcastUsage = "❌ Usage: /broadcast [filters] <text>\n\n" +
	"Filters:\n" +
	"gender=1 — women only\n" +
	"gender=2 — men only\n" +
	"blocked=0 — active users only\n" +
	"blocked=1 — blocked users only\n\n" +
	"Example: /broadcast gender=2 blocked=0 Hello!"

// handleBroadcast sends text to every user matching the AND of the
// given equality filters, sequentially, and reports an exact
// sent/failed tally back to the admin.
func (h *AdminHandler) handleBroadcast(ctx context.Context, msg vk.Message, args string) {
	if args == "" {
		h.reply(ctx, msg.SenderID, broadcastUsage)
		return
	}

	filters, text, err := parseBroadcastArgs(args)
	if err != nil {
		h.reply(ctx, msg.SenderID, broadcastUsage)
		return
	}
	if text == "" {
		h.reply(ctx, msg.SenderID, "❌ Broadcast text is missing.")
		return
	}

	users, err := h.users.ListUsers(filters)
	if err != nil {
		h.reply(ctx, msg.SenderID, fmt.Sprintf("❌ Could not list recipients: %v", err))
		return
	}
	if len(users) == 0 {
		h.reply(ctx, msg.SenderID, "❌ No users match the given filters.")
		return
	}

	// Sequential on purpose: one slow or failing recipient must not be
	// conflated with others, and the tally stays exact.
	var sent, failed int
	for _, user := range users {
		if err := h.transport.SendMessage(ctx, user.ExternalID, text, ""); err != nil {
			logger.ErrorCF("admin", "Broadcast send failed", map[string]any{
				"recipient": user.ExternalID, "error": err.Error(),
			})
			failed++
			continue
		}
		sent++
	}

	h.reply(ctx, msg.SenderID, fmt.Sprintf(
		"✅ Broadcast finished!\n\n📤 Sent: %d\n❌ Failed: %d\n👥 Recipients: %d",
		sent, failed, len(users)))
}

// parseBroadcastArgs separates gender=/blocked= filter tokens from the
// message text. Filter tokens are recognized anywhere in the argument
// list; everything else joins the text.
func parseBroadcastArgs(args string) (store.Filters, string, error) {
	var filters store.Filters
	var textParts []string

	for _, token := range strings.Fields(args) {
		switch {
		case strings.HasPrefix(token, "gender="):
			value, err := strconv.Atoi(strings.TrimPrefix(token, "gender="))
			if err != nil {
				return store.Filters{}, "", fmt.Errorf("invalid gender filter %q", token)
			}
			filters.Gender = &value
		case strings.HasPrefix(token, "blocked="):
			value, err := strconv.Atoi(strings.TrimPrefix(token, "blocked="))
			if err != nil {
				return store.Filters{}, "", fmt.Errorf("invalid blocked filter %q", token)
			}
			blocked := value != 0
			filters.Blocked = &blocked
		default:
			textParts = append(textParts, token)
		}
	}

	return filters, strings.Join(textParts, " "), nil
}

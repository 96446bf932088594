package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tinyland-inc/govorun/pkg/store"
	"github.com/tinyland-inc/govorun/pkg/vk"
)

// sentMessage records one outbound SendMessage call.
type sentMessage struct {
	Recipient  int64
	Text       string
	Attachment string
}

type fakeTransport struct {
	sent       []sentMessage
	uploads    int
	profiles   map[int64]vk.UserProfile
	sendErrFor map[int64]error
	uploadErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{profiles: map[int64]vk.UserProfile{}}
}

func (f *fakeTransport) SendMessage(_ context.Context, recipientID int64, text, attachment string) error {
	if err := f.sendErrFor[recipientID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{recipientID, text, attachment})
	return nil
}

func (f *fakeTransport) UploadVoiceMessage(_ context.Context, _ []byte, _ int64) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return fmt.Sprintf("doc1_%d", f.uploads), nil
}

func (f *fakeTransport) GetUsers(_ context.Context, ids []int64) ([]vk.UserProfile, error) {
	var out []vk.UserProfile
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeTransport) GetLongPollServer(_ context.Context, _ int64) (vk.Endpoint, error) {
	return vk.Endpoint{}, errors.New("not used in dispatcher tests")
}

// fakeStore is an in-memory UserStore.
type fakeStore struct {
	users  map[int64]*store.User
	admins map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*store.User{}, admins: map[int64]bool{}}
}

func (f *fakeStore) GetByExternalID(id int64) (*store.User, error) {
	return f.users[id], nil
}

func (f *fakeStore) Add(id int64, first, last string, gender int) (*store.User, error) {
	u := &store.User{ExternalID: id, FirstName: first, LastName: last, Gender: gender}
	f.users[id] = u
	return u, nil
}

func (f *fakeStore) Block(id int64) (bool, error) {
	u, ok := f.users[id]
	if !ok {
		return false, nil
	}
	u.Blocked = true
	return true, nil
}

func (f *fakeStore) Unblock(id int64) (bool, error) {
	u, ok := f.users[id]
	if !ok {
		return false, nil
	}
	u.Blocked = false
	return true, nil
}

func (f *fakeStore) IsBlocked(id int64) (bool, error) {
	u, ok := f.users[id]
	return ok && u.Blocked, nil
}

func (f *fakeStore) IsAdmin(id int64) (bool, error) {
	return f.admins[id], nil
}

func (f *fakeStore) AddAdmin(id int64) error {
	f.admins[id] = true
	return nil
}

func (f *fakeStore) ListUsers(filters store.Filters) ([]store.User, error) {
	var out []store.User
	for _, u := range f.users {
		if filters.Gender != nil && u.Gender != *filters.Gender {
			continue
		}
		if filters.Blocked != nil && u.Blocked != *filters.Blocked {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeStore) ListAdmins() ([]store.Admin, error) {
	var out []store.Admin
	for id := range f.admins {
		out = append(out, store.Admin{ExternalID: id})
	}
	return out, nil
}

type stubVoice struct {
	audio []byte
	err   error
	calls int
}

func (s *stubVoice) Generate(_ context.Context, _ string) ([]byte, error) {
	s.calls++
	return s.audio, s.err
}

func newTestDispatcher() (*Dispatcher, *fakeTransport, *fakeStore, *stubVoice) {
	transport := newFakeTransport()
	users := newFakeStore()
	voice := &stubVoice{audio: []byte("audio")}
	return NewDispatcher(transport, users, voice), transport, users, voice
}

func msgFrom(sender int64, text string) vk.Message {
	return vk.Message{SenderID: sender, ConversationID: sender, Text: text}
}

func TestRoute_BlockedSenderProducesNoOutboundCalls(t *testing.T) {
	d, transport, users, voice := newTestDispatcher()
	users.Add(1, "Blocked", "User", store.GenderUnknown)
	users.Block(1)

	d.Route(context.Background(), msgFrom(1, "/help"))
	d.Route(context.Background(), msgFrom(1, "some text"))

	if len(transport.sent) != 0 || transport.uploads != 0 || voice.calls != 0 {
		t.Errorf("blocked sender caused outbound activity: sent=%d uploads=%d voice=%d",
			len(transport.sent), transport.uploads, voice.calls)
	}
}

func TestRoute_NonAdminCommandFallsThroughToUnknown(t *testing.T) {
	d, transport, users, _ := newTestDispatcher()
	users.Add(1, "Plain", "User", store.GenderUnknown)
	users.Add(2, "Target", "User", store.GenderUnknown)

	d.Route(context.Background(), msgFrom(1, "/block 2"))

	if len(transport.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(transport.sent))
	}
	if !strings.Contains(transport.sent[0].Text, "Unknown command") {
		t.Errorf("reply = %q, want unknown-command text", transport.sent[0].Text)
	}
	if users.users[2].Blocked {
		t.Error("non-admin must not be able to block")
	}
}

func TestRoute_AdminCommandExecutes(t *testing.T) {
	d, transport, users, _ := newTestDispatcher()
	users.Add(1, "Admin", "User", store.GenderUnknown)
	users.AddAdmin(1)
	users.Add(2, "Target", "User", store.GenderUnknown)

	d.Route(context.Background(), msgFrom(1, "/block 2"))

	if !users.users[2].Blocked {
		t.Error("admin /block must block the target")
	}
	if len(transport.sent) != 1 || !strings.Contains(transport.sent[0].Text, "blocked") {
		t.Errorf("expected confirmation reply, got %+v", transport.sent)
	}
}

func TestRoute_AdminUnknownCommandFallsThrough(t *testing.T) {
	d, transport, users, _ := newTestDispatcher()
	users.Add(1, "Admin", "User", store.GenderUnknown)
	users.AddAdmin(1)

	d.Route(context.Background(), msgFrom(1, "/frobnicate"))

	if len(transport.sent) != 1 || !strings.Contains(transport.sent[0].Text, "Unknown command") {
		t.Errorf("expected unknown-command reply, got %+v", transport.sent)
	}
}

func TestRoute_GeneralCommands(t *testing.T) {
	d, transport, users, _ := newTestDispatcher()
	users.Add(1, "Plain", "User", store.GenderUnknown)

	d.Route(context.Background(), msgFrom(1, "/start"))
	d.Route(context.Background(), msgFrom(1, "/help"))

	if len(transport.sent) != 2 {
		t.Fatalf("expected two replies, got %d", len(transport.sent))
	}
	if !strings.Contains(transport.sent[0].Text, "voice message") {
		t.Errorf("welcome reply = %q", transport.sent[0].Text)
	}
	if !strings.Contains(transport.sent[1].Text, "Pauses") {
		t.Errorf("help reply = %q", transport.sent[1].Text)
	}
}

func TestRoute_EmptyTextShortCircuits(t *testing.T) {
	d, transport, users, voice := newTestDispatcher()
	users.Add(1, "Plain", "User", store.GenderUnknown)

	d.Route(context.Background(), msgFrom(1, "   "))

	if voice.calls != 0 {
		t.Error("synthesis must not run for empty text")
	}
	if len(transport.sent) != 1 || !strings.Contains(transport.sent[0].Text, "nothing to voice") {
		t.Errorf("expected empty-text reply, got %+v", transport.sent)
	}
}

func TestRoute_FreeTextBecomesVoiceReply(t *testing.T) {
	d, transport, users, voice := newTestDispatcher()
	users.Add(1, "Plain", "User", store.GenderUnknown)

	d.Route(context.Background(), msgFrom(1, "say this"))

	if voice.calls != 1 {
		t.Fatalf("voice calls = %d, want 1", voice.calls)
	}
	if transport.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", transport.uploads)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(transport.sent))
	}
	reply := transport.sent[0]
	if reply.Text != "" || reply.Attachment != "doc1_1" {
		t.Errorf("voice reply = %+v, want empty text with attachment", reply)
	}
}

func TestRoute_SynthesisFailureBecomesErrorReply(t *testing.T) {
	d, transport, users, voice := newTestDispatcher()
	users.Add(1, "Plain", "User", store.GenderUnknown)
	voice.err = errors.New("engine down")

	d.Route(context.Background(), msgFrom(1, "say this"))

	if transport.uploads != 0 {
		t.Error("failed synthesis must not upload")
	}
	if len(transport.sent) != 1 || !strings.Contains(transport.sent[0].Text, "Could not generate") {
		t.Errorf("expected error reply, got %+v", transport.sent)
	}
}

func TestRoute_FirstContactRegistersUser(t *testing.T) {
	d, transport, users, _ := newTestDispatcher()
	transport.profiles[5] = vk.UserProfile{ID: 5, FirstName: "New", LastName: "Person", Gender: store.GenderFemale}

	d.Route(context.Background(), msgFrom(5, "hello"))

	user := users.users[5]
	if user == nil {
		t.Fatal("first-contact sender was not registered")
	}
	if user.FirstName != "New" || user.Gender != store.GenderFemale {
		t.Errorf("registered user = %+v", user)
	}
}

func TestRoute_ProfileFetchFailureDoesNotBlockRouting(t *testing.T) {
	d, transport, users, voice := newTestDispatcher()
	// No profile for sender 9: registration fails, routing continues.

	d.Route(context.Background(), msgFrom(9, "hello"))

	if users.users[9] != nil {
		t.Error("user must not be invented without profile data")
	}
	if voice.calls != 1 || len(transport.sent) != 1 {
		t.Errorf("routing must continue: voice=%d sent=%d", voice.calls, len(transport.sent))
	}
}

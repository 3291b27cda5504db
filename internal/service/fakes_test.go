package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/tinkapp/tink/internal/apperror"
	"github.com/tinkapp/tink/internal/auth"
	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/realtime"
	"github.com/tinkapp/tink/internal/session"
)

// =========================================================================
// FAKE COLLABORATORS
// =========================================================================

// callLog records the order in which collaborators were called, across
// fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeProvider is an IdentityProvider that answers from fields set by the
// test.
type fakeProvider struct {
	log *callLog

	identity  *auth.Identity
	err       error
	signOut   error
	reauthErr error
	verifyErr error
	tokens    map[string]*auth.Identity

	// onSignOut runs inside SignOut, before it returns.
	onSignOut func()
}

func (f *fakeProvider) SignIn(_ context.Context, email, _ string) (*auth.Identity, error) {
	f.log.add("provider.SignIn %s", email)
	return f.identity, f.err
}

func (f *fakeProvider) SignUp(_ context.Context, email, _ string) (*auth.Identity, error) {
	f.log.add("provider.SignUp %s", email)
	return f.identity, f.err
}

func (f *fakeProvider) SignInWithCredential(_ context.Context, cred auth.Credential) (*auth.Identity, error) {
	f.log.add("provider.SignInWithCredential %s", cred.Provider)
	return f.identity, f.err
}

func (f *fakeProvider) SendPasswordReset(_ context.Context, email string) error {
	f.log.add("provider.SendPasswordReset %s", email)
	return f.err
}

func (f *fakeProvider) ConfirmPasswordReset(_ context.Context, token, _ string) error {
	f.log.add("provider.ConfirmPasswordReset %s", token)
	return f.err
}

func (f *fakeProvider) Verify(_ context.Context, idToken string) (*auth.Identity, error) {
	f.log.add("provider.Verify")
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if id, ok := f.tokens[idToken]; ok {
		return id, nil
	}
	return nil, auth.ErrTokenRevoked
}

func (f *fakeProvider) Reauthenticate(_ context.Context, uid, _ string) error {
	f.log.add("provider.Reauthenticate %s", uid)
	return f.reauthErr
}

func (f *fakeProvider) SignOut(_ context.Context, uid string) error {
	f.log.add("provider.SignOut %s", uid)
	if f.onSignOut != nil {
		f.onSignOut()
	}
	return f.signOut
}

func (f *fakeProvider) Delete(_ context.Context, uid string) error {
	f.log.add("provider.Delete %s", uid)
	return f.err
}

// fakeMedia is a media.Host that remembers what it holds.
type fakeMedia struct {
	log    *callLog
	stored map[string]string
	err    error
}

func (f *fakeMedia) Upload(_ context.Context, publicID string, r io.Reader) (string, error) {
	f.log.add("media.Upload %s", publicID)
	if f.err != nil {
		return "", f.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.stored[publicID] = string(body)
	return "https://img.test/" + publicID + ".jpg", nil
}

func (f *fakeMedia) Delete(_ context.Context, publicID string) error {
	f.log.add("media.Delete %s", publicID)
	if f.err != nil {
		return f.err
	}
	delete(f.stored, publicID)
	return nil
}

// fakeDocs implements every document collection in memory and publishes
// chat changes on a realtime.Bus, like the sqlite store does.
type fakeDocs struct {
	mu         sync.Mutex
	users      map[string]model.User
	skills     map[string]model.Skill
	skillOrder []string
	categories []model.Category
	chats      map[string]*model.Chat
	nextID     int

	bus *realtime.Bus

	// failing makes the named operation return an error.
	failing  map[string]error
	patches  []string
	creates  int
	listings int

	// onListSkills and onListChats run at the start of ListSkills and
	// ListChatsFor, outside the lock.
	onListSkills func()
	onListChats  func()
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		users:   make(map[string]model.User),
		skills:  make(map[string]model.Skill),
		chats:   make(map[string]*model.Chat),
		bus:     realtime.NewBus(),
		failing: make(map[string]error),
	}
}

func (f *fakeDocs) fail(op string) error {
	return f.failing[op]
}

func (f *fakeDocs) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeDocs) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateUser"); err != nil {
		return err
	}
	if _, ok := f.users[u.ID]; ok {
		return apperror.Conflict("user", u.ID)
	}
	f.users[u.ID] = *u
	return nil
}

func (f *fakeDocs) GetUser(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

func (f *fakeDocs) UpdateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateUser"); err != nil {
		return err
	}
	if _, ok := f.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	f.users[u.ID] = *u
	return nil
}

func (f *fakeDocs) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	return nil
}

func (f *fakeDocs) putSkill(s model.Skill) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.skills[s.ID]; !ok {
		f.skillOrder = append(f.skillOrder, s.ID)
	}
	f.skills[s.ID] = s
}

func (f *fakeDocs) CreateSkill(_ context.Context, s *model.Skill) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateSkill"); err != nil {
		return err
	}
	s.ID = f.id("skill-")
	f.skills[s.ID] = *s
	f.skillOrder = append(f.skillOrder, s.ID)
	return nil
}

func (f *fakeDocs) GetSkill(_ context.Context, id string) (*model.Skill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.skills[id]
	if !ok {
		return nil, apperror.NotFound("skill", id)
	}
	return &s, nil
}

func (f *fakeDocs) ListSkills(_ context.Context) ([]model.Skill, error) {
	if f.onListSkills != nil {
		f.onListSkills()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings++
	if err := f.fail("ListSkills"); err != nil {
		return nil, err
	}
	out := make([]model.Skill, 0, len(f.skillOrder))
	for _, id := range f.skillOrder {
		if s, ok := f.skills[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeDocs) ListSkillsByOwner(ctx context.Context, uid string) ([]model.Skill, error) {
	all, err := f.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Skill, 0)
	for _, s := range all {
		if s.User.ID == uid {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeDocs) UpdateSkill(_ context.Context, s *model.Skill) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.skills[s.ID]; !ok {
		return apperror.NotFound("skill", s.ID)
	}
	f.skills[s.ID] = *s
	return nil
}

func (f *fakeDocs) PatchSkillOwner(_ context.Context, skillID string, owner model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("PatchSkillOwner " + skillID); err != nil {
		return err
	}
	s, ok := f.skills[skillID]
	if !ok {
		return apperror.NotFound("skill", skillID)
	}
	s.User = owner
	f.skills[skillID] = s
	f.patches = append(f.patches, skillID)
	return nil
}

func (f *fakeDocs) DeleteSkill(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.skills[id]; !ok {
		return apperror.NotFound("skill", id)
	}
	delete(f.skills, id)
	return nil
}

func (f *fakeDocs) ListCategories(_ context.Context) ([]model.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings++
	return append([]model.Category(nil), f.categories...), nil
}

func (f *fakeDocs) UpsertCategory(_ context.Context, c *model.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories = append(f.categories, *c)
	return nil
}

func (f *fakeDocs) CreateChat(_ context.Context, c *model.Chat) error {
	f.mu.Lock()
	if len(c.Users) != 2 {
		f.mu.Unlock()
		return apperror.ValidationFailed("users", "a chat has two participants")
	}
	pair := model.Pair(c.Users[0], c.Users[1])
	for _, existing := range f.chats {
		if model.Pair(existing.Users[0], existing.Users[1]) == pair {
			f.mu.Unlock()
			return apperror.Conflict("chat", existing.ID)
		}
	}
	f.creates++
	c.ID = f.id("chat-")
	c.Users = []string{pair[0], pair[1]}
	stored := *c
	stored.Messages = []model.Message{}
	f.chats[c.ID] = &stored
	f.mu.Unlock()

	f.bus.Publish("user-chats/"+pair[0], "user-chats/"+pair[1])
	return nil
}

func (f *fakeDocs) GetChat(_ context.Context, id string) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, apperror.NotFound("chat", id)
	}
	return copyChat(c), nil
}

func (f *fakeDocs) FindChatBetween(_ context.Context, a, b string) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindChatBetween"); err != nil {
		return nil, err
	}
	pair := model.Pair(a, b)
	for _, c := range f.chats {
		if model.Pair(c.Users[0], c.Users[1]) == pair {
			return copyChat(c), nil
		}
	}
	return nil, apperror.NotFound("chat", a+"/"+b)
}

func (f *fakeDocs) ListChatsFor(_ context.Context, uid string) ([]model.Chat, error) {
	if f.onListChats != nil {
		f.onListChats()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Chat, 0)
	for _, c := range f.chats {
		if c.Has(uid) {
			out = append(out, *copyChat(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDocs) AppendMessage(_ context.Context, chatID string, m model.Message) error {
	f.mu.Lock()
	c, ok := f.chats[chatID]
	if !ok {
		f.mu.Unlock()
		return apperror.NotFound("chat", chatID)
	}
	c.Messages = append(c.Messages, m)
	users := append([]string(nil), c.Users...)
	f.mu.Unlock()

	f.bus.Publish("chat/"+chatID, "user-chats/"+users[0], "user-chats/"+users[1])
	return nil
}

func (f *fakeDocs) WatchChat(id string) *realtime.Subscription[realtime.Event] {
	return f.bus.Subscribe("chat/" + id)
}

func (f *fakeDocs) WatchUserChats(uid string) *realtime.Subscription[realtime.Event] {
	return f.bus.Subscribe("user-chats/" + uid)
}

func copyChat(c *model.Chat) *model.Chat {
	out := model.Chat{
		ID:       c.ID,
		Users:    append([]string(nil), c.Users...),
		Messages: append([]model.Message{}, c.Messages...),
	}
	return &out
}

// =========================================================================
// TEST HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.Open(context.Background(), session.NewMemoryKV(), "device/test")
	if err != nil {
		t.Fatalf("session.Open() error = %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// signInAs puts u in the Session Store directly.
func signInAs(t *testing.T, store *session.Store, u model.User) {
	t.Helper()
	if err := store.SetUser(context.Background(), &u); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}
}

func passwordIdentity(uid, email string) *auth.Identity {
	return &auth.Identity{
		UID:      uid,
		Email:    email,
		Provider: model.ProviderPassword,
		IDToken:  "token-" + uid,
	}
}

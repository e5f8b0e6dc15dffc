package engine

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/timetravel/backend/internal/analysis/reactive"
	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
	"github.com/zhouzirui/timetravel/backend/internal/model/persona"
	"github.com/zhouzirui/timetravel/backend/internal/model/source"
	"github.com/zhouzirui/timetravel/backend/internal/service/ai"
	"github.com/zhouzirui/timetravel/backend/internal/service/session"
	"github.com/zhouzirui/timetravel/backend/internal/storage/sessionstore"
)

type completion struct {
	history []chat.Turn
	prompt  string
}

// fakeCompleter answers with reply(n) for the n-th call, starting at 1.
type fakeCompleter struct {
	mu    sync.Mutex
	calls []completion
	reply func(n int, history []chat.Turn) string
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func (f *fakeCompleter) Complete(_ context.Context, history []chat.Turn, systemPrompt string) string {
	f.mu.Lock()
	f.calls = append(f.calls, completion{history: append([]chat.Turn(nil), history...), prompt: systemPrompt})
	n := len(f.calls)
	f.mu.Unlock()

	if f.reply == nil {
		return fmt.Sprintf("reply %d", n)
	}
	return f.reply(n, history)
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCompleter) last() completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	engine    *Engine
	store     *sessionstore.MemoryStore
	completer *fakeCompleter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := persona.NewMemoryStore(persona.Seed(), persona.DefaultID)
	require.NoError(t, err)
	return newFixtureWithCatalog(t, catalog)
}

func newFixtureWithCatalog(t *testing.T, catalog persona.Store) *fixture {
	t.Helper()
	store := sessionstore.NewMemoryStore()
	completer := &fakeCompleter{}
	sources := source.NewCatalog([]source.Entry{
		{Topic: "фотоэффект", URL: "https://example.org/photo"},
		{Topic: "e=mc²", URL: "https://example.org/emc2"},
	})
	svc := session.NewService(store, catalog.DefaultID())
	return &fixture{
		engine:    New(catalog, sources, svc, completer),
		store:     store,
		completer: completer,
	}
}

func (f *fixture) stored(t *testing.T, userID int64) chat.Session {
	t.Helper()
	s, found, err := f.store.Load(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, found)
	return s
}

func (f *fixture) seed(t *testing.T, s chat.Session) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), s))
}

func assertInvariants(t *testing.T, s chat.Session) {
	t.Helper()
	assert.Contains(t, s.Unlocked, persona.DefaultID)
	if s.HasActivePersona() {
		assert.Contains(t, s.Unlocked, s.ActivePersonaID)
	}
	assert.LessOrEqual(t, len(s.History), chat.HistoryLimit)
}

func TestStartListsOnlyDefaultForNewUser(t *testing.T) {
	f := newFixture(t)

	statuses, err := f.engine.Start(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	for _, st := range statuses {
		assert.Equal(t, st.Persona.ID == persona.DefaultID, st.Unlocked, st.Persona.ID)
	}

	s := f.stored(t, 1)
	assert.Equal(t, chat.NewSession(1, persona.DefaultID), s)
}

func TestSelectPersona(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded := chat.NewSession(2, persona.DefaultID)
	seeded.Unlock("cleopatra")
	seeded.Activate(persona.DefaultID)
	seeded.Record(chat.UserTurn("q"), chat.AssistantTurn("a"))
	seeded.MessageCount = 6
	f.seed(t, seeded)

	sel, err := f.engine.SelectPersona(ctx, 2, "cleopatra")
	require.NoError(t, err)
	assert.Equal(t, "cleopatra", sel.Persona.ID)
	assert.Equal(t, sel.Persona.Greeting, sel.Greeting)

	s := f.stored(t, 2)
	assert.Equal(t, "cleopatra", s.ActivePersonaID)
	assert.Empty(t, s.History)
	assert.Equal(t, 6, s.MessageCount, "selection is not counted")
	assert.Zero(t, f.completer.count())
	assertInvariants(t, s)
}

func TestSelectPersonaGreetingFallback(t *testing.T) {
	catalog, err := persona.NewMemoryStore([]persona.Persona{
		{ID: "einstein", Name: "Einstein", SystemPrompt: "physics"},
	}, "einstein")
	require.NoError(t, err)
	f := newFixtureWithCatalog(t, catalog)

	sel, err := f.engine.SelectPersona(context.Background(), 3, "einstein")
	require.NoError(t, err)
	assert.Equal(t, GreetingFallback, sel.Greeting)
}

func TestSelectLockedPersonaLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SelectPersona(ctx, 4, persona.DefaultID)
	require.NoError(t, err)
	_, err = f.engine.Turn(ctx, 4, "hi")
	require.NoError(t, err)
	before := f.stored(t, 4)

	_, err = f.engine.SelectPersona(ctx, 4, "napoleon")
	require.ErrorIs(t, err, ErrPersonaLocked)
	assert.Equal(t, before, f.stored(t, 4))

	_, err = f.engine.SelectPersona(ctx, 4, "tesla")
	require.ErrorIs(t, err, ErrPersonaNotFound)
	assert.Equal(t, before, f.stored(t, 4))
}

func TestSelectPersonaWithoutThresholdIsOpen(t *testing.T) {
	catalog, err := persona.NewMemoryStore([]persona.Persona{
		{ID: "einstein", Name: "Einstein", SystemPrompt: "physics"},
		{ID: "curie", Name: "Curie", SystemPrompt: "chemistry"},
	}, "einstein")
	require.NoError(t, err)
	f := newFixtureWithCatalog(t, catalog)
	ctx := context.Background()

	statuses, err := f.engine.Start(ctx, 5)
	require.NoError(t, err)
	assert.True(t, statuses[1].Unlocked)

	_, err = f.engine.SelectPersona(ctx, 5, "curie")
	require.NoError(t, err)
	s := f.stored(t, 5)
	assert.Equal(t, []string{"einstein", "curie"}, s.Unlocked)
	assertInvariants(t, s)
}

func TestTurnRequiresActivePersona(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Turn(context.Background(), 6, "hello")
	require.ErrorIs(t, err, ErrNoActivePersona)
	assert.Zero(t, f.completer.count())
	assert.Equal(t, 0, f.stored(t, 6).MessageCount)
}

func TestTurnSendsHistoryAndPrompt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SelectPersona(ctx, 7, persona.DefaultID)
	require.NoError(t, err)
	_, err = f.engine.Turn(ctx, 7, "first")
	require.NoError(t, err)
	reply, err := f.engine.Turn(ctx, 7, "second")
	require.NoError(t, err)
	assert.Equal(t, "reply 2", reply.Text)

	einstein, _ := f.engine.Catalog().FindByID(persona.DefaultID)
	call := f.completer.last()
	assert.Equal(t, einstein.SystemPrompt, call.prompt)
	assert.Equal(t, []chat.Turn{
		chat.UserTurn("first"),
		chat.AssistantTurn("reply 1"),
		chat.UserTurn("second"),
	}, call.history)

	s := f.stored(t, 7)
	assert.Equal(t, 2, s.MessageCount)
	assert.Len(t, s.History, 4)
}

// Scenario C.
func TestTurnUnlocksAtThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded := chat.NewSession(8, persona.DefaultID)
	seeded.Activate(persona.DefaultID)
	seeded.MessageCount = 4
	f.seed(t, seeded)

	reply, err := f.engine.Turn(ctx, 8, "one more")
	require.NoError(t, err)
	require.NotNil(t, reply.NewlyUnlocked)
	assert.Equal(t, "cleopatra", reply.NewlyUnlocked.ID)

	s := f.stored(t, 8)
	assert.Equal(t, 5, s.MessageCount)
	assert.Contains(t, s.Unlocked, "cleopatra")
	assertInvariants(t, s)

	again, err := f.engine.Turn(ctx, 8, "and another")
	require.NoError(t, err)
	assert.Nil(t, again.NewlyUnlocked, "an unlock is reported once")
	assert.Equal(t, []string{"einstein", "cleopatra"}, f.stored(t, 8).Unlocked)
}

func TestTurnReportsLastOfSeveralUnlocks(t *testing.T) {
	f := newFixture(t)

	seeded := chat.NewSession(9, persona.DefaultID)
	seeded.Activate(persona.DefaultID)
	seeded.MessageCount = 24
	f.seed(t, seeded)

	reply, err := f.engine.Turn(context.Background(), 9, "hi")
	require.NoError(t, err)
	require.NotNil(t, reply.NewlyUnlocked)
	assert.Equal(t, "davinci", reply.NewlyUnlocked.ID)
	assert.Equal(t, []string{"einstein", "cleopatra", "napoleon", "davinci"}, f.stored(t, 9).Unlocked)
}

// Scenario D.
func TestTurnKeepsLastTenEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SelectPersona(ctx, 10, persona.DefaultID)
	require.NoError(t, err)

	for i := 1; i <= 11; i++ {
		_, err := f.engine.Turn(ctx, 10, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		assertInvariants(t, f.stored(t, 10))
	}

	s := f.stored(t, 10)
	require.Len(t, s.History, 10)
	assert.Equal(t, chat.UserTurn("msg 7"), s.History[0])
	assert.Equal(t, chat.AssistantTurn("reply 11"), s.History[9])
	assert.Equal(t, 11, s.MessageCount)
}

// Scenario E.
func TestTurnWithDegradedGateway(t *testing.T) {
	catalog, err := persona.NewMemoryStore(persona.Seed(), persona.DefaultID)
	require.NoError(t, err)
	store := sessionstore.NewMemoryStore()
	gateway := ai.NewGateway(failingProvider{err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}})
	eng := New(catalog, source.Seed(), session.NewService(store, persona.DefaultID), gateway)
	ctx := context.Background()

	_, err = eng.SelectPersona(ctx, 11, persona.DefaultID)
	require.NoError(t, err)

	reply, err := eng.Turn(ctx, 11, "are you there?")
	require.NoError(t, err)
	assert.Equal(t, ai.ConnectionErrorReply, reply.Text)

	s, _, err := store.Load(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 1, s.MessageCount)
	assert.Equal(t, []chat.Turn{
		chat.UserTurn("are you there?"),
		chat.AssistantTurn(ai.ConnectionErrorReply),
	}, s.History)
}

type failingProvider struct{ err error }

func (p failingProvider) Name() string { return "failing" }

func (p failingProvider) Generate(context.Context, []chat.Turn) (string, error) {
	return "", p.err
}

func TestTurnReactiveContentForDefaultPersona(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := "Могу поделиться ссылкой про фотоэффект. [OFFER_BUTTONS]"
	f.completer.reply = func(int, []chat.Turn) string { return raw }

	_, err := f.engine.SelectPersona(ctx, 12, persona.DefaultID)
	require.NoError(t, err)

	reply, err := f.engine.Turn(ctx, 12, "расскажи")
	require.NoError(t, err)
	assert.True(t, reply.Cited)
	assert.Equal(t, "Могу поделиться ссылкой про фотоэффект.\n\n🔗 Вот полезная ссылка по теме: https://example.org/photo", reply.Text)
	assert.Equal(t, reactive.FollowUpRows(), reply.FollowUps)

	s := f.stored(t, 12)
	assert.Equal(t, chat.AssistantTurn(raw), s.History[1], "history keeps the raw reply")
}

func TestTurnNoReactiveContentForOtherPersonas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := "Могу поделиться ссылкой про фотоэффект. [OFFER_BUTTONS]"
	f.completer.reply = func(int, []chat.Turn) string { return raw }

	seeded := chat.NewSession(13, persona.DefaultID)
	seeded.Unlock("cleopatra")
	seeded.Activate("cleopatra")
	seeded.MessageCount = 5
	f.seed(t, seeded)

	reply, err := f.engine.Turn(ctx, 13, "расскажи")
	require.NoError(t, err)
	assert.Equal(t, raw, reply.Text)
	assert.False(t, reply.Cited)
	assert.Nil(t, reply.FollowUps)
}

func TestFollowUpIsNotCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded := chat.NewSession(14, persona.DefaultID)
	seeded.Activate(persona.DefaultID)
	seeded.MessageCount = 4
	f.seed(t, seeded)

	reply, err := f.engine.FollowUp(ctx, 14, reactive.OptionProof)
	require.NoError(t, err)
	assert.Equal(t, "reply 1", reply.Text)
	assert.Nil(t, reply.NewlyUnlocked)

	opt, _ := reactive.FindOption(reactive.OptionProof)
	assert.Equal(t, []chat.Turn{chat.UserTurn(opt.Prompt)}, f.completer.last().history)

	s := f.stored(t, 14)
	assert.Equal(t, 4, s.MessageCount)
	assert.Equal(t, []string{persona.DefaultID}, s.Unlocked)
	assert.Equal(t, []chat.Turn{chat.UserTurn(opt.Prompt), chat.AssistantTurn("reply 1")}, s.History)
}

func TestFollowUpKeepsHistoryBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded := chat.NewSession(15, persona.DefaultID)
	seeded.Activate(persona.DefaultID)
	for i := 0; i < 5; i++ {
		seeded.Record(chat.UserTurn("q"), chat.AssistantTurn("a"))
	}
	f.seed(t, seeded)

	_, err := f.engine.FollowUp(ctx, 15, reactive.OptionParadox)
	require.NoError(t, err)
	s := f.stored(t, 15)
	require.Len(t, s.History, 10)
	assert.Equal(t, chat.AssistantTurn("reply 1"), s.History[9])
}

func TestFollowUpErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.FollowUp(ctx, 16, "nope")
	require.ErrorIs(t, err, ErrUnknownOption)

	_, err = f.engine.FollowUp(ctx, 16, reactive.OptionParadox)
	require.ErrorIs(t, err, ErrNoActivePersona)
	assert.Zero(t, f.completer.count())
}

func TestConcurrentTurnsForOneUserAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SelectPersona(ctx, 17, persona.DefaultID)
	require.NoError(t, err)

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Turn(ctx, 17, fmt.Sprintf("msg %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s := f.stored(t, 17)
	assert.Equal(t, turns, s.MessageCount, "no update may be lost")
	assert.Len(t, s.History, chat.HistoryLimit)
	assert.Equal(t, 0, f.engine.locks.size())
	assertInvariants(t, s)
}

func TestSaveFailureDoesNotFailTurn(t *testing.T) {
	catalog, err := persona.NewMemoryStore(persona.Seed(), persona.DefaultID)
	require.NoError(t, err)
	sessions := &brokenSessions{}
	completer := &fakeCompleter{}
	eng := New(catalog, nil, sessions, completer)

	reply, err := eng.Turn(context.Background(), 18, "hi")
	require.NoError(t, err)
	assert.Equal(t, "reply 1", reply.Text)
	assert.Equal(t, 1, sessions.saves)
}

// brokenSessions always returns an active default session and fails every save.
type brokenSessions struct {
	saves int
}

func (b *brokenSessions) GetOrCreate(_ context.Context, userID int64) (chat.Session, error) {
	s := chat.NewSession(userID, persona.DefaultID)
	s.Activate(persona.DefaultID)
	return s, nil
}

func (b *brokenSessions) Save(_ context.Context, s chat.Session) error {
	b.saves++
	return &session.StorageError{Op: "save", UserID: s.UserID, Err: errors.New("disk full")}
}

func TestUnlockMonotonicAcrossSelections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded := chat.NewSession(19, persona.DefaultID)
	seeded.Activate(persona.DefaultID)
	seeded.MessageCount = 9
	f.seed(t, seeded)

	_, err := f.engine.Turn(ctx, 19, "unlock napoleon")
	require.NoError(t, err)
	for _, id := range []string{"napoleon", "cleopatra", persona.DefaultID, "napoleon"} {
		_, err := f.engine.SelectPersona(ctx, 19, id)
		require.NoError(t, err)
		s := f.stored(t, 19)
		assert.True(t, strings.Contains(strings.Join(s.Unlocked, ","), "napoleon"))
		assertInvariants(t, s)
	}
}

func TestCancelledRequestsKeepProgress(t *testing.T) {
	catalog, err := persona.NewMemoryStore(persona.Seed(), persona.DefaultID)
	require.NoError(t, err)

	dsn, err := sessionstore.SQLiteDSNForFile(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	store, err := sessionstore.NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	seeded := chat.NewSession(21, persona.DefaultID)
	seeded.MessageCount = 7
	seeded.Unlock("cleopatra")
	require.NoError(t, store.Save(context.Background(), seeded))

	writer := session.NewAsyncStore(session.NewService(store, catalog.DefaultID()), 1)
	runCtx, stop := context.WithCancel(context.Background())
	go func() { _ = writer.Run(runCtx) }()

	eng := New(catalog, nil, writer, &fakeCompleter{})

	// The client disconnected before every event.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = eng.SelectPersona(ctx, 21, "cleopatra")
	require.NoError(t, err)
	const turns = 25
	for i := 0; i < turns; i++ {
		_, err := eng.Turn(ctx, 21, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	stop()
	<-writer.Done()

	s, found, err := store.Load(context.Background(), 21)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 7+turns, s.MessageCount, "every completed turn is persisted")
	assert.Contains(t, s.Unlocked, "cleopatra")
	assert.Equal(t, "cleopatra", s.ActivePersonaID)
	assertInvariants(t, s)
}

package chat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/model/news"
	"github.com/zhouzirui/serenity/backend/internal/model/settings"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/serenity/backend/internal/service/chat"
	"github.com/zhouzirui/serenity/backend/internal/service/image"
	"github.com/zhouzirui/serenity/backend/internal/service/intent"
	"github.com/zhouzirui/serenity/backend/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// genai pulls in opencensus, whose view worker starts in init and never exits.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var fixedNow = time.Date(2025, 2, 14, 9, 30, 0, 0, time.UTC)

// fakeCompleter answers title prompts and chat prompts separately.
type fakeCompleter struct {
	mu         sync.Mutex
	reply      string
	err        error
	title      string
	titleGate  chan struct{}
	chatCalls  int
	titleCalls int
	histories  [][]chat.Message
}

func (f *fakeCompleter) Complete(_ context.Context, history []chat.Message, system string) (string, error) {
	if strings.Contains(system, "short title") {
		if f.titleGate != nil {
			<-f.titleGate
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.titleCalls++
		if f.title == "" {
			return "", errors.New("no title")
		}
		return f.title, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	f.histories = append(f.histories, append([]chat.Message(nil), history...))
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) counts() (chatCalls, titleCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls, f.titleCalls
}

type fixedClassifier struct {
	kind intent.Kind
}

func (c fixedClassifier) Classify(_ context.Context, text string) intent.Intention {
	kind := c.kind
	if kind == "" {
		kind = intent.KindChat
	}
	return intent.Intention{Kind: kind, Query: text}
}

type fakeImager struct {
	err     error
	prompts []string
}

func (f *fakeImager) Synthesize(_ context.Context, prompt string) (image.Image, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return image.Image{}, f.err
	}
	return image.Image{Data: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"}, nil
}

type fakeNews struct {
	articles []news.Article
	err      error
	forced   []bool
}

func (f *fakeNews) Search(_ context.Context, _ string, force bool) ([]news.Article, error) {
	f.forced = append(f.forced, force)
	return f.articles, f.err
}

type harness struct {
	mem     *storage.Memory
	manager *chatsvc.Manager
	events  <-chan chatsvc.Event
}

func newHarness(t *testing.T, deps chatsvc.Deps) *harness {
	t.Helper()
	mem := storage.NewMemory()
	return newHarnessWith(t, mem, deps)
}

func newHarnessWith(t *testing.T, mem *storage.Memory, deps chatsvc.Deps) *harness {
	t.Helper()
	hub := chatsvc.NewHub()
	events, cancel := hub.Subscribe(256)
	t.Cleanup(cancel)

	deps.Store = storage.NewAdapter(mem, nil)
	deps.Images = mem.Images()
	deps.Events = hub
	if deps.Now == nil {
		deps.Now = func() time.Time { return fixedNow }
	}
	if deps.Settings == nil {
		deps.Settings = settings.NewHolder(settings.Defaults())
	}

	m := chatsvc.NewManager(deps)
	t.Cleanup(m.Close)
	return &harness{mem: mem, manager: m, events: events}
}

func drain(ch <-chan chatsvc.Event) []chatsvc.Event {
	var out []chatsvc.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSendMessageCreatesSessionAndAlternates(t *testing.T) {
	completer := &fakeCompleter{reply: "Main theek hoon baby"}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})

	res, err := h.manager.SendMessage(context.Background(), "Hi, how are you doing today my love?")
	require.NoError(t, err)

	session := res.Session
	assert.Equal(t, "Hi, how are you doing today my", session.Title)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, chat.RoleUser, session.Messages[0].Role)
	assert.Equal(t, chat.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, "Main theek hoon baby", res.Reply.Content)
	assert.False(t, res.OpenConfig)

	// A frozen clock still yields strictly increasing timestamps.
	assert.True(t, session.Messages[1].Timestamp.After(session.Messages[0].Timestamp))
	assert.True(t, session.UpdatedAt.After(session.CreatedAt))
	assert.Equal(t, session.ID, h.manager.ActiveID())

	res2, err := h.manager.SendMessage(context.Background(), "Khana khaya?")
	require.NoError(t, err)
	assert.Equal(t, session.ID, res2.Session.ID)
	require.Len(t, res2.Session.Messages, 4)
	for i, msg := range res2.Session.Messages {
		want := chat.RoleUser
		if i%2 == 1 {
			want = chat.RoleAssistant
		}
		assert.Equal(t, want, msg.Role, "message %d", i)
	}
	assert.True(t, res2.Session.UpdatedAt.After(session.UpdatedAt))

	completer.mu.Lock()
	lastHistory := completer.histories[len(completer.histories)-1]
	completer.mu.Unlock()
	assert.Len(t, lastHistory, 3)
}

func TestSendMessageEmptyInput(t *testing.T) {
	completer := &fakeCompleter{reply: "unused"}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := h.manager.SendMessage(context.Background(), text)
		assert.ErrorIs(t, err, chatsvc.ErrEmptyMessage)
	}
	assert.Empty(t, h.manager.ListSessions())
	assert.Empty(t, drain(h.events))

	chatCalls, _ := completer.counts()
	assert.Zero(t, chatCalls)
}

func TestSendMessageRetitlesEmptySession(t *testing.T) {
	h := newHarness(t, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}, Classifier: fixedClassifier{}})

	created := h.manager.CreateSession()
	assert.Equal(t, chat.DefaultTitle, created.Title)

	res, err := h.manager.SendMessage(context.Background(), "short")
	require.NoError(t, err)
	assert.Equal(t, created.ID, res.Session.ID)
	assert.Equal(t, "short", res.Session.Title)
}

func TestSendMessageToUnknownSession(t *testing.T) {
	h := newHarness(t, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}, Classifier: fixedClassifier{}})

	_, err := h.manager.SendMessageTo(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, chatsvc.ErrSessionNotFound)
}

func TestTitleGeneratedAtTwoAndFourMessages(t *testing.T) {
	completer := &fakeCompleter{reply: "haan baby", title: `"Sweet Morning Talk."`}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})

	ctx := context.Background()
	for _, text := range []string{"good morning", "kya kar rahe ho", "miss you"} {
		_, err := h.manager.SendMessage(ctx, text)
		require.NoError(t, err)
		h.manager.Close()
	}

	_, titleCalls := completer.counts()
	assert.Equal(t, 2, titleCalls)

	session, ok := h.manager.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, "Sweet Morning Talk", session.Title)

	var titles int
	for _, ev := range drain(h.events) {
		if ev.Type == chatsvc.EventTitle {
			titles++
		}
	}
	assert.Equal(t, 2, titles)
}

// staggeredTitles holds the title for the first exchange until released.
type staggeredTitles struct {
	release chan struct{}
	done    chan struct{}
}

func (c *staggeredTitles) Complete(_ context.Context, history []chat.Message, system string) (string, error) {
	if !strings.Contains(system, "short title") {
		return "theek hai", nil
	}
	if !strings.Contains(history[0].Content, "miss you") {
		<-c.release
		defer close(c.done)
		return "Old Title From Two", nil
	}
	return "Newer Title From Four", nil
}

func TestLateEarlierTitleDoesNotOverwriteNewer(t *testing.T) {
	completer := &staggeredTitles{release: make(chan struct{}), done: make(chan struct{})}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})

	ctx := context.Background()
	res, err := h.manager.SendMessage(ctx, "good morning")
	require.NoError(t, err)
	_, err = h.manager.SendMessage(ctx, "miss you")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := h.manager.GetSession(res.Session.ID)
		return err == nil && s.Title == "Newer Title From Four"
	}, time.Second, 5*time.Millisecond)

	close(completer.release)
	<-completer.done
	h.manager.Close()

	s, err := h.manager.GetSession(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Newer Title From Four", s.Title)

	var titles []any
	for _, ev := range drain(h.events) {
		if ev.Type == chatsvc.EventTitle {
			titles = append(titles, ev.Payload)
		}
	}
	assert.Equal(t, []any{"Newer Title From Four"}, titles)
}

func TestTitleDiscardedWhenSessionDeleted(t *testing.T) {
	gate := make(chan struct{})
	completer := &fakeCompleter{reply: "ok", title: "Late Title", titleGate: gate}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})

	res, err := h.manager.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, h.manager.DeleteSession(res.Session.ID))

	close(gate)
	h.manager.Close()

	assert.Empty(t, h.manager.ListSessions())
	for _, ev := range drain(h.events) {
		assert.NotEqual(t, chatsvc.EventTitle, ev.Type)
	}
}

func TestDeleteActiveSelectsFirstRemaining(t *testing.T) {
	h := newHarness(t, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}})

	a := h.manager.CreateSession()
	b := h.manager.CreateSession()
	c := h.manager.CreateSession()

	list := h.manager.ListSessions()
	require.Len(t, list, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Equal(t, c.ID, h.manager.ActiveID())

	require.NoError(t, h.manager.DeleteSession(c.ID))
	assert.Equal(t, b.ID, h.manager.ActiveID())

	require.NoError(t, h.manager.DeleteSession(a.ID))
	assert.Equal(t, b.ID, h.manager.ActiveID())

	require.NoError(t, h.manager.DeleteSession(b.ID))
	assert.Equal(t, "", h.manager.ActiveID())
	_, ok := h.manager.ActiveSession()
	assert.False(t, ok)

	assert.ErrorIs(t, h.manager.DeleteSession(b.ID), chatsvc.ErrSessionNotFound)
}

func TestSelectSession(t *testing.T) {
	h := newHarness(t, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}})

	a := h.manager.CreateSession()
	h.manager.CreateSession()

	require.NoError(t, h.manager.SelectSession(a.ID))
	assert.Equal(t, a.ID, h.manager.ActiveID())
	assert.ErrorIs(t, h.manager.SelectSession("nope"), chatsvc.ErrSessionNotFound)
	assert.Equal(t, a.ID, h.manager.ActiveID())
}

func TestImageIntentStoresGalleryItem(t *testing.T) {
	imager := &fakeImager{}
	h := newHarness(t, chatsvc.Deps{
		Completer:  &fakeCompleter{reply: "unused"},
		Classifier: fixedClassifier{kind: intent.KindGenerateImage},
		Imager:     imager,
	})

	ctx := context.Background()
	res, err := h.manager.SendMessage(ctx, "Generate an image of a sunset")
	require.NoError(t, err)

	assert.Equal(t, intent.KindGenerateImage, res.Intent)
	assert.Equal(t, chat.RoleAssistant, res.Reply.Role)
	assert.Equal(t, chatsvc.ImageReply, res.Reply.Content)
	require.NotEmpty(t, res.Reply.ImageID)
	assert.Equal(t, []string{"Generate an image of a sunset"}, imager.prompts)

	items, err := h.manager.Gallery(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.Reply.ImageID, items[0].ID)
	assert.Equal(t, "Generate an image of a sunset", items[0].Prompt)

	item, data, err := h.manager.Image(ctx, res.Reply.ImageID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", item.ContentType)
	assert.NotEmpty(t, data)
}

func TestGenerateImageAppendsToActiveSession(t *testing.T) {
	h := newHarness(t, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}, Imager: &fakeImager{}})

	item, msg, err := h.manager.GenerateImage(context.Background(), "a cat in the rain")
	require.NoError(t, err)
	assert.Equal(t, item.ID, msg.ImageID)

	session, ok := h.manager.ActiveSession()
	require.True(t, ok)
	require.Len(t, session.Messages, 1)
	assert.Equal(t, chatsvc.ImageReply, session.Messages[0].Content)

	_, _, err = h.manager.GenerateImage(context.Background(), "  ")
	assert.ErrorIs(t, err, chatsvc.ErrEmptyPrompt)
}

func TestNewsIntentForcesRefreshAndAttachesArticles(t *testing.T) {
	articles := []news.Article{
		{Title: "Rupee gains", Source: "Mint", URL: "https://example.com/1", Image: news.PlaceholderImage},
		{Title: "Monsoon arrives early", Source: "NDTV", URL: "https://example.com/2", Image: news.PlaceholderImage},
	}
	feed := &fakeNews{articles: articles}
	completer := &fakeCompleter{reply: "Baby, aaj do badi khabrein hain."}
	h := newHarness(t, chatsvc.Deps{
		Completer:  completer,
		Classifier: fixedClassifier{kind: intent.KindFetchNews},
		News:       feed,
	})

	res, err := h.manager.SendMessage(context.Background(), "What's the news today?")
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, feed.forced)
	assert.Equal(t, "Baby, aaj do badi khabrein hain.", res.Reply.Content)
	assert.Equal(t, articles, res.Reply.News)
}

func TestNewsSummaryFailureFallsBackToHeadlines(t *testing.T) {
	articles := []news.Article{{Title: "Rupee gains", Source: "Mint"}}
	h := newHarness(t, chatsvc.Deps{
		Completer:  &fakeCompleter{err: errors.New("summary down")},
		Classifier: fixedClassifier{kind: intent.KindFetchNews},
		News:       &fakeNews{articles: articles},
	})

	res, err := h.manager.SendMessage(context.Background(), "news?")
	require.NoError(t, err)
	assert.Equal(t, chat.RoleAssistant, res.Reply.Role)
	assert.Contains(t, res.Reply.Content, "Rupee gains (Mint)")
	assert.Equal(t, articles, res.Reply.News)
}

func TestNewsFailureWithoutCacheApologizes(t *testing.T) {
	h := newHarness(t, chatsvc.Deps{
		Completer:  &fakeCompleter{reply: "unused"},
		Classifier: fixedClassifier{kind: intent.KindFetchNews},
		News:       &fakeNews{err: errors.New("gnews down")},
	})

	res, err := h.manager.SendMessage(context.Background(), "news?")
	require.NoError(t, err)
	assert.Equal(t, chat.RoleSystem, res.Reply.Role)
	assert.Equal(t, chatsvc.NetworkApology, res.Reply.Content)
}

func TestMissingCredentialsOpensConfig(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("openrouter: %w", ai.ErrCredentialMissing)}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})

	res, err := h.manager.SendMessage(context.Background(), "hello")
	require.NoError(t, err)

	assert.True(t, res.OpenConfig)
	assert.Equal(t, chat.RoleSystem, res.Reply.Role)
	assert.Equal(t, chatsvc.CredentialApology, res.Reply.Content)
	require.Len(t, res.Session.Messages, 2)

	events := drain(h.events)
	var sawOpenConfig bool
	var lastTyping any
	for _, ev := range events {
		switch ev.Type {
		case chatsvc.EventOpenConfig:
			sawOpenConfig = true
		case chatsvc.EventTyping:
			lastTyping = ev.Payload
		}
	}
	assert.True(t, sawOpenConfig)
	assert.Equal(t, false, lastTyping)
}

func TestProviderFailureApologizes(t *testing.T) {
	completer := &fakeCompleter{err: &ai.NetworkError{Provider: "openrouter", Err: errors.New("connection reset")}}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})

	res, err := h.manager.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.False(t, res.OpenConfig)
	assert.Equal(t, chatsvc.NetworkApology, res.Reply.Content)
}

func TestStateSurvivesRestart(t *testing.T) {
	mem := storage.NewMemory()
	first := newHarnessWith(t, mem, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}, Classifier: fixedClassifier{}})

	res, err := first.manager.SendMessage(context.Background(), "remember me")
	require.NoError(t, err)
	newer := first.manager.CreateSession()
	require.NoError(t, first.manager.SelectSession(res.Session.ID))
	first.manager.Close()

	second := newHarnessWith(t, mem, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}})
	assert.Equal(t, res.Session.ID, second.manager.ActiveID())
	require.Len(t, second.manager.ListSessions(), 2)
	assert.Equal(t, newer.ID, second.manager.ListSessions()[0].ID)

	restored, err := second.manager.GetSession(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Session.Messages, restored.Messages)
}

func TestUpdateSettingsPersistsNormalized(t *testing.T) {
	mem := storage.NewMemory()
	h := newHarnessWith(t, mem, chatsvc.Deps{Completer: &fakeCompleter{reply: "ok"}})

	next := h.manager.Settings()
	next.PartnerName = "Shona"
	next.NewsRefreshInterval = 0
	applied := h.manager.UpdateSettings(next)
	assert.Equal(t, settings.DefaultNewsRefreshInterval, applied.NewsRefreshInterval)

	loaded := chatsvc.LoadSettings(storage.NewAdapter(mem, nil), nil)
	assert.Equal(t, applied, loaded)
}

func TestConcurrentSendsKeepAlternation(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	h := newHarness(t, chatsvc.Deps{Completer: completer, Classifier: fixedClassifier{}})
	session := h.manager.CreateSession()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.manager.SendMessageTo(context.Background(), session.ID, fmt.Sprintf("msg %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := h.manager.GetSession(session.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 16)
	for i, msg := range got.Messages {
		if i%2 == 0 {
			assert.Equal(t, chat.RoleUser, msg.Role)
		} else {
			assert.Equal(t, chat.RoleAssistant, msg.Role)
		}
		if i > 0 {
			assert.True(t, msg.Timestamp.After(got.Messages[i-1].Timestamp))
		}
	}
}

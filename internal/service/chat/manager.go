package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/serenity/backend/internal/logging"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
	"github.com/zhouzirui/serenity/backend/internal/model/gallery"
	"github.com/zhouzirui/serenity/backend/internal/model/news"
	"github.com/zhouzirui/serenity/backend/internal/model/settings"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	"github.com/zhouzirui/serenity/backend/internal/service/image"
	"github.com/zhouzirui/serenity/backend/internal/service/intent"
	"github.com/zhouzirui/serenity/backend/internal/storage"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrEmptyPrompt     = errors.New("image prompt is empty")
	ErrSessionNotFound = errors.New("session not found")
)

// Canned replies shown in the conversation.
const (
	ImageReply        = "Ye lo baby, tumhare liye banaya:"
	NetworkApology    = "Baby, thoda network issue ho raha hai. Main abhi connect nahi kar pa raha."
	CredentialApology = "Baby, API key missing hai. Settings mein jaake key daal do na, phir hum baat karte hain."
)

const (
	provisionalTitleRunes = 30
	titleTimeout          = 30 * time.Second
)

// Classifier decides how a user message is routed.
type Classifier interface {
	Classify(ctx context.Context, text string) intent.Intention
}

// ImageSynthesizer turns a prompt into image bytes.
type ImageSynthesizer interface {
	Synthesize(ctx context.Context, prompt string) (image.Image, error)
}

// NewsSearcher looks up recent articles.
type NewsSearcher interface {
	Search(ctx context.Context, query string, forceRefresh bool) ([]news.Article, error)
}

// Deps collects the collaborators of a Manager. Store is required; the
// others may be nil.
type Deps struct {
	Store      *storage.Adapter
	Images     storage.ImageStore
	Settings   *settings.Holder
	Completer  ai.Completer
	Classifier Classifier
	Imager     ImageSynthesizer
	News       NewsSearcher
	Events     *Hub
	Logger     *zap.Logger
	Now        func() time.Time
}

// SendResult describes the outcome of one pipeline run.
type SendResult struct {
	Session    chat.Session `json:"session"`
	Reply      chat.Message `json:"reply"`
	Intent     intent.Kind  `json:"intent"`
	OpenConfig bool         `json:"openConfig"`
}

// Manager owns the session list, the active pointer and the settings, and
// routes user messages to the capability clients.
type Manager struct {
	store      *storage.Adapter
	images     storage.ImageStore
	settings   *settings.Holder
	completer  ai.Completer
	classifier Classifier
	imager     ImageSynthesizer
	news       NewsSearcher
	events     *Hub
	log        *zap.Logger
	now        func() time.Time

	mu        sync.RWMutex
	sessions  []chat.Session // most recently created first
	activeID  string
	sendLocks map[string]*sync.Mutex
	// titledAt holds the history length behind each session's latest generated title.
	titledAt map[string]int

	bg sync.WaitGroup
}

// NewManager restores persisted sessions and the active pointer.
func NewManager(deps Deps) *Manager {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	holder := deps.Settings
	if holder == nil {
		holder = settings.NewHolder(LoadSettings(deps.Store, deps.Logger))
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = intent.NewClassifier(deps.Completer, deps.Logger)
	}

	m := &Manager{
		store:      deps.Store,
		images:     deps.Images,
		settings:   holder,
		completer:  deps.Completer,
		classifier: classifier,
		imager:     deps.Imager,
		news:       deps.News,
		events:     deps.Events,
		log:        logging.OrNop(deps.Logger).Named("chat"),
		now:        now,
		sendLocks:  make(map[string]*sync.Mutex),
		titledAt:   make(map[string]int),
	}

	m.sessions = storage.Load(m.store, storage.KeySessions, []chat.Session{})
	if m.sessions == nil {
		m.sessions = []chat.Session{}
	}
	active := storage.Load(m.store, storage.KeyActiveSession, "")
	if m.indexOf(active) >= 0 {
		m.activeID = active
	} else if len(m.sessions) > 0 {
		m.activeID = m.sessions[0].ID
	}

	m.log.Debug("sessions restored", zap.Int("count", len(m.sessions)), zap.String("active", m.activeID))
	return m
}

// LoadSettings reads the persisted settings, backfilling missing fields.
func LoadSettings(store *storage.Adapter, logger *zap.Logger) settings.AppSettings {
	if store == nil {
		return settings.Defaults()
	}
	s, err := settings.Merge(store.Raw(storage.KeySettings))
	if err != nil {
		logging.OrNop(logger).Warn("corrupt settings, using defaults", zap.Error(err))
	}
	return s
}

// CreateSession starts an empty conversation and makes it active.
func (m *Manager) CreateSession() chat.Session {
	m.mu.Lock()
	session := m.createLocked(chat.DefaultTitle)
	m.persistLocked()
	m.mu.Unlock()

	m.publish(EventSession, session.ID, session.Summarize())
	return session.Clone()
}

// DeleteSession removes a conversation. When it was active, the first
// remaining session in display order becomes active.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	delete(m.sendLocks, id)
	delete(m.titledAt, id)
	if m.activeID == id {
		m.activeID = ""
		if len(m.sessions) > 0 {
			m.activeID = m.sessions[0].ID
		}
	}
	active := m.activeID
	m.persistLocked()
	m.mu.Unlock()

	m.publish(EventSession, active, map[string]string{"deleted": id, "active": active})
	return nil
}

// SelectSession switches the active conversation.
func (m *Manager) SelectSession(id string) error {
	m.mu.Lock()
	if m.indexOf(id) < 0 {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.activeID = id
	m.persistActiveLocked()
	m.mu.Unlock()

	m.publish(EventSession, id, map[string]string{"active": id})
	return nil
}

// ActiveSession returns the active conversation, if any.
func (m *Manager) ActiveSession() (chat.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexOf(m.activeID)
	if idx < 0 {
		return chat.Session{}, false
	}
	return m.sessions[idx].Clone(), true
}

// ActiveID returns the active session id or "".
func (m *Manager) ActiveID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// ListSessions returns summaries in display order.
func (m *Manager) ListSessions() []chat.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Summarize())
	}
	return out
}

// GetSession returns a copy of one conversation.
func (m *Manager) GetSession(id string) (chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexOf(id)
	if idx < 0 {
		return chat.Session{}, ErrSessionNotFound
	}
	return m.sessions[idx].Clone(), nil
}

// Settings returns the current settings.
func (m *Manager) Settings() settings.AppSettings {
	return m.settings.Get()
}

// UpdateSettings replaces the settings as a whole and persists them.
func (m *Manager) UpdateSettings(next settings.AppSettings) settings.AppSettings {
	applied := m.settings.Set(next)
	_ = storage.Save(m.store, storage.KeySettings, applied)
	return applied
}

// Gallery lists generated images, newest first.
func (m *Manager) Gallery(ctx context.Context) ([]gallery.Item, error) {
	if m.images == nil {
		return []gallery.Item{}, nil
	}
	return m.images.GetAll(ctx)
}

// Image returns the metadata and bytes of one generated image.
func (m *Manager) Image(ctx context.Context, id string) (gallery.Item, []byte, error) {
	if m.images == nil {
		return gallery.Item{}, nil, storage.ErrImageNotFound
	}
	return m.images.Get(ctx, id)
}

// SendMessage runs the pipeline against the active session, creating one
// when none is active.
func (m *Manager) SendMessage(ctx context.Context, text string) (SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return SendResult{}, ErrEmptyMessage
	}

	m.mu.Lock()
	id := m.activeID
	if m.indexOf(id) < 0 {
		session := m.createLocked(provisionalTitle(text))
		id = session.ID
		m.persistLocked()
		m.mu.Unlock()
		m.publish(EventSession, id, session.Summarize())
	} else {
		m.mu.Unlock()
	}

	return m.SendMessageTo(ctx, id, text)
}

// SendMessageTo appends a user message to the given session, routes it by
// intention and appends the reply. Calls on the same session are serialized.
func (m *Manager) SendMessageTo(ctx context.Context, sessionID, text string) (SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return SendResult{}, ErrEmptyMessage
	}

	lock, err := m.sendLock(sessionID)
	if err != nil {
		return SendResult{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	userMsg := chat.Message{ID: uuid.NewString(), Role: chat.RoleUser, Content: text}
	history, err := m.appendMessage(sessionID, userMsg, true)
	if err != nil {
		return SendResult{}, err
	}

	m.publish(EventTyping, sessionID, true)
	defer m.publish(EventTyping, sessionID, false)

	intention := m.classifier.Classify(ctx, text)
	m.log.Debug("message classified",
		zap.String("session", sessionID),
		zap.String("intent", string(intention.Kind)))

	reply, dispatchErr := m.dispatch(ctx, intention, history, text)
	result := SendResult{Intent: intention.Kind}
	if dispatchErr != nil {
		reply = m.failureMessage(sessionID, dispatchErr, &result)
	}

	history, err = m.appendMessage(sessionID, reply, false)
	if err != nil {
		return SendResult{}, err
	}
	result.Reply = history[len(history)-1]

	if n := len(history); n == 2 || n == 4 {
		m.spawnTitle(sessionID, history)
	}

	session, err := m.GetSession(sessionID)
	if err != nil {
		return SendResult{}, err
	}
	result.Session = session
	return result, nil
}

// GenerateImage synthesizes prompt directly into the gallery and posts the
// picture to the active session.
func (m *Manager) GenerateImage(ctx context.Context, prompt string) (gallery.Item, chat.Message, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return gallery.Item{}, chat.Message{}, ErrEmptyPrompt
	}

	item, err := m.synthesize(ctx, prompt)
	if err != nil {
		if ai.IsCredentialMissing(err) {
			m.publish(EventOpenConfig, m.ActiveID(), err.Error())
		}
		return gallery.Item{}, chat.Message{}, err
	}

	m.mu.Lock()
	id := m.activeID
	if m.indexOf(id) < 0 {
		session := m.createLocked(chat.DefaultTitle)
		id = session.ID
		m.persistLocked()
	}
	m.mu.Unlock()

	lock, err := m.sendLock(id)
	if err != nil {
		return item, chat.Message{}, err
	}
	lock.Lock()
	defer lock.Unlock()

	msg := chat.Message{ID: uuid.NewString(), Role: chat.RoleAssistant, Content: ImageReply, ImageID: item.ID}
	history, err := m.appendMessage(id, msg, false)
	if err != nil {
		return item, chat.Message{}, err
	}
	return item, history[len(history)-1], nil
}

// Close waits for background title tasks.
func (m *Manager) Close() {
	m.bg.Wait()
}

func (m *Manager) dispatch(ctx context.Context, in intent.Intention, history []chat.Message, text string) (chat.Message, error) {
	reply := chat.Message{ID: uuid.NewString(), Role: chat.RoleAssistant}

	switch in.Kind {
	case intent.KindGenerateImage:
		item, err := m.synthesize(ctx, in.Query)
		if err != nil {
			return chat.Message{}, err
		}
		reply.Content = ImageReply
		reply.ImageID = item.ID
		return reply, nil

	case intent.KindFetchNews:
		articles, err := m.searchNews(ctx, in.Query)
		if err != nil {
			return chat.Message{}, err
		}
		reply.News = articles
		if len(articles) == 0 {
			reply.Content = ai.HeadlineDigest(nil)
			return reply, nil
		}
		persona := m.settings.Get().ComposeSystemPrompt(m.now())
		summary, err := ai.SummarizeNews(ctx, m.completer, articles, persona, text)
		if err != nil || strings.TrimSpace(summary) == "" {
			m.log.Warn("news summary failed, sending headlines", zap.Error(err))
			summary = ai.HeadlineDigest(articles)
		}
		reply.Content = strings.TrimSpace(summary)
		return reply, nil

	default:
		if m.completer == nil {
			return chat.Message{}, ai.ErrCredentialMissing
		}
		system := m.settings.Get().ComposeSystemPrompt(m.now())
		content, err := m.completer.Complete(ctx, history, system)
		if err != nil {
			return chat.Message{}, err
		}
		reply.Content = content
		return reply, nil
	}
}

func (m *Manager) synthesize(ctx context.Context, prompt string) (gallery.Item, error) {
	if m.imager == nil {
		return gallery.Item{}, ai.ErrCredentialMissing
	}
	img, err := m.imager.Synthesize(ctx, prompt)
	if err != nil {
		return gallery.Item{}, err
	}

	id := uuid.NewString()
	item := gallery.Item{
		ID:          id,
		URL:         gallery.ImageURL(id),
		Prompt:      prompt,
		ContentType: img.ContentType,
		CreatedAt:   m.now(),
	}
	if m.images != nil {
		if err := m.images.Put(ctx, item, img.Data); err != nil {
			m.log.Warn("gallery write failed", zap.String("image", id), zap.Error(err))
		}
	}
	return item, nil
}

func (m *Manager) searchNews(ctx context.Context, query string) ([]news.Article, error) {
	if m.news == nil {
		return nil, ai.ErrCredentialMissing
	}
	articles, err := m.news.Search(ctx, query, true)
	if err != nil && len(articles) == 0 {
		return nil, err
	}
	if err != nil {
		m.log.Warn("news fetch failed, using cache", zap.Error(err))
	}
	return articles, nil
}

func (m *Manager) failureMessage(sessionID string, err error, result *SendResult) chat.Message {
	msg := chat.Message{ID: uuid.NewString(), Role: chat.RoleSystem, Content: NetworkApology}
	if ai.IsCredentialMissing(err) {
		msg.Content = CredentialApology
		result.OpenConfig = true
		m.publish(EventOpenConfig, sessionID, err.Error())
	}
	m.log.Warn("reply failed",
		zap.String("session", sessionID),
		zap.Bool("credential_missing", result.OpenConfig),
		zap.Error(err))
	return msg
}

// appendMessage stamps msg, adds it to the session and persists. It returns a copy
// of the resulting history.
func (m *Manager) appendMessage(sessionID string, msg chat.Message, retitleEmpty bool) ([]chat.Message, error) {
	m.mu.Lock()
	idx := m.indexOf(sessionID)
	if idx < 0 {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	s := &m.sessions[idx]
	if retitleEmpty && len(s.Messages) == 0 {
		s.Title = provisionalTitle(msg.Content)
	}
	m.touch(s)
	msg.Timestamp = s.UpdatedAt
	s.Messages = append(s.Messages, msg)
	history := append([]chat.Message(nil), s.Messages...)
	m.persistLocked()
	m.mu.Unlock()

	m.publish(EventMessage, sessionID, msg)
	return history, nil
}

func (m *Manager) spawnTitle(sessionID string, history []chat.Message) {
	if m.completer == nil {
		return
	}

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, ok := ai.ProposeTitle(ctx, m.completer, history)
		if !ok {
			return
		}

		m.mu.Lock()
		idx := m.indexOf(sessionID)
		if idx < 0 || m.titledAt[sessionID] >= len(history) {
			m.mu.Unlock()
			return
		}
		m.titledAt[sessionID] = len(history)
		m.sessions[idx].Title = title
		m.persistLocked()
		m.mu.Unlock()

		m.publish(EventTitle, sessionID, title)
	}()
}

// touch advances UpdatedAt, bumping by a millisecond on clock ties.
func (m *Manager) touch(s *chat.Session) {
	now := m.now()
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Millisecond)
	}
	s.UpdatedAt = now
}

func (m *Manager) createLocked(title string) chat.Session {
	now := m.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []chat.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions = append([]chat.Session{session}, m.sessions...)
	m.activeID = session.ID
	return session
}

func (m *Manager) sendLock(sessionID string) (*sync.Mutex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(sessionID) < 0 {
		return nil, ErrSessionNotFound
	}
	lock, ok := m.sendLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.sendLocks[sessionID] = lock
	}
	return lock, nil
}

func (m *Manager) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) persistLocked() {
	_ = storage.Save(m.store, storage.KeySessions, m.sessions)
	m.persistActiveLocked()
}

func (m *Manager) persistActiveLocked() {
	_ = storage.Save(m.store, storage.KeyActiveSession, m.activeID)
}

func (m *Manager) publish(t EventType, sessionID string, payload any) {
	m.events.Publish(Event{Type: t, SessionID: sessionID, Payload: payload, At: m.now()})
}

func provisionalTitle(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > provisionalTitleRunes {
		runes = runes[:provisionalTitleRunes]
	}
	return string(runes)
}

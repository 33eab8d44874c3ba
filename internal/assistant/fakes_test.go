package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/PlanPipe/internal/calendar"
	"github.com/BTreeMap/PlanPipe/internal/models"
)

var (
	taipei  = time.FixedZone("CST", 8*3600)
	fixedAt = time.Date(2026, 10, 15, 10, 0, 0, 0, taipei) // Thursday
	errDown = errors.New("service unavailable")
)

// fakeOracle answers with per-method functions; a nil function fails the call.
type fakeOracle struct {
	understand func(text string) (models.Intent, error)
	modify     func(plan models.Plan, text string) (models.Intent, error)
	deletion   func(text string, n int) (models.DeletionChoice, error)
	image      func(image []byte) (models.Intent, error)
	knowledge  func(note models.KnowledgeNote, goal string) (string, error)
	objective  func(title string) (models.Plan, error)
	merge      func(partial models.Intent, text string) (models.Intent, error)
}

func (f *fakeOracle) UnderstandAndPlan(ctx context.Context, text string) (models.Intent, error) {
	if f.understand == nil {
		return models.Intent{}, errDown
	}
	return f.understand(text)
}

func (f *fakeOracle) ModifyPlan(ctx context.Context, plan models.Plan, text string) (models.Intent, error) {
	if f.modify == nil {
		return models.Intent{}, errDown
	}
	return f.modify(plan, text)
}

func (f *fakeOracle) ParseDeletionChoice(ctx context.Context, text string, n int) (models.DeletionChoice, error) {
	if f.deletion == nil {
		return models.DeletionChoice{}, errDown
	}
	return f.deletion(text, n)
}

func (f *fakeOracle) AnalyzeImageAndPlan(ctx context.Context, image []byte, mime string) (models.Intent, error) {
	if f.image == nil {
		return models.Intent{}, errDown
	}
	return f.image(image)
}

func (f *fakeOracle) ProcessKnowledge(ctx context.Context, note models.KnowledgeNote, goal string) (string, error) {
	if f.knowledge == nil {
		return "", errDown
	}
	return f.knowledge(note, goal)
}

func (f *fakeOracle) GeneratePlanForObjective(ctx context.Context, title string) (models.Plan, error) {
	if f.objective == nil {
		return nil, errDown
	}
	return f.objective(title)
}

func (f *fakeOracle) MergePlanWithCorrection(ctx context.Context, partial models.Intent, text string) (models.Intent, error) {
	if f.merge == nil {
		return models.Intent{}, errDown
	}
	return f.merge(partial, text)
}

// fakeEvents is an in-memory EventStore. Creating an event whose summary is in
// failSummaries fails.
type fakeEvents struct {
	mu            sync.Mutex
	events        []models.CalendarEvent
	drafts        []models.EventDraft
	deleted       []string
	failSummaries map[string]bool
	searchResult  []models.CalendarEvent
	listErr       error
}

func (f *fakeEvents) Location() *time.Location { return taipei }

func (f *fakeEvents) Now() time.Time { return fixedAt }

func (f *fakeEvents) Create(ctx context.Context, userID int64, draft models.EventDraft) (models.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	if f.failSummaries[draft.Summary] {
		return models.CalendarEvent{}, errDown
	}
	if err := draft.Validate(); err != nil {
		return models.CalendarEvent{}, err
	}
	start := draft.Start
	end := draft.End
	ev := models.CalendarEvent{
		ID:       fmt.Sprintf("ev-%d", len(f.events)+1),
		Summary:  draft.Summary,
		Start:    models.EventTime{DateTime: &start, TimeZone: taipei.String()},
		End:      models.EventTime{DateTime: &end, TimeZone: taipei.String()},
		Location: draft.Location,
		Status:   models.EventConfirmed,
	}
	if draft.AllDay {
		ev.Start = models.EventTime{Date: draft.Start.Format(models.DateLayout)}
		ev.End = models.EventTime{Date: draft.End.Format(models.DateLayout)}
	}
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeEvents) DeleteByID(ctx context.Context, userID int64, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeEvents) Search(ctx context.Context, userID int64, query string) ([]models.CalendarEvent, error) {
	return f.searchResult, nil
}

func (f *fakeEvents) ListByRange(ctx context.Context, userID int64, r models.Range) ([]models.CalendarEvent, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events, nil
}

func (f *fakeEvents) GetStatusBatch(ctx context.Context, userID int64, ids []string) (models.StatusBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var matched []models.CalendarEvent
	for _, ev := range f.events {
		if want[ev.ID] {
			matched = append(matched, ev)
		}
	}
	return calendar.ClassifyStatus(matched, fixedAt, taipei), nil
}

func (f *fakeEvents) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drafts)
}

// fakeUsers is an in-memory UserStore that counts state writes.
type fakeUsers struct {
	mu         sync.Mutex
	states     map[int64]models.ConversationState
	writes     int
	users      []models.User
	objectives []models.LearningObjective
	notes      []models.KnowledgeNote
	links      map[int64][]string
	noteLinks  map[int64]int64
	setErr     error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		states:    make(map[int64]models.ConversationState),
		links:     make(map[int64][]string),
		noteLinks: make(map[int64]int64),
	}
}

func (f *fakeUsers) FindOrCreateUser(ctx context.Context, externalID string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ExternalID == externalID {
			u.State = f.states[u.ID]
			return u, nil
		}
	}
	u := models.User{ID: int64(len(f.users) + 1), ExternalID: externalID}
	f.users = append(f.users, u)
	return u, nil
}

func (f *fakeUsers) GetState(ctx context.Context, userID int64) (models.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[userID], nil
}

func (f *fakeUsers) SetState(ctx context.Context, userID int64, state models.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.setErr != nil {
		return f.setErr
	}
	if state == nil {
		delete(f.states, userID)
		return nil
	}
	f.states[userID] = state
	return nil
}

func (f *fakeUsers) state(userID int64) models.ConversationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[userID]
}

func (f *fakeUsers) CreateObjective(ctx context.Context, userID int64, title string, due *time.Time) (models.LearningObjective, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj := models.LearningObjective{ID: int64(len(f.objectives) + 1), UserID: userID, Title: title, Status: models.ObjectiveInProgress, DueDate: due}
	f.objectives = append(f.objectives, obj)
	return obj, nil
}

func (f *fakeUsers) FindObjectiveByTitle(ctx context.Context, userID int64, title string) (*models.LearningObjective, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.objectives {
		if o.UserID == userID && o.Title == title {
			o.LinkedEventIDs = f.links[o.ID]
			return &o, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) LinkEventToObjective(ctx context.Context, objectiveID int64, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[objectiveID] = append(f.links[objectiveID], eventID)
	return nil
}

func (f *fakeUsers) SaveNote(ctx context.Context, note models.KnowledgeNote) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	note.ID = int64(len(f.notes) + 1)
	f.notes = append(f.notes, note)
	return note.ID, nil
}

func (f *fakeUsers) GetNote(ctx context.Context, noteID int64) (*models.KnowledgeNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notes {
		if n.ID == noteID {
			return &n, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetLatestNote(ctx context.Context, userID int64) (*models.KnowledgeNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.notes) - 1; i >= 0; i-- {
		if f.notes[i].UserID == userID {
			n := f.notes[i]
			return &n, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) LinkNoteToObjective(ctx context.Context, noteID, objectiveID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteLinks[noteID] = objectiveID
	return nil
}

func (f *fakeUsers) GetAllUsers(ctx context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.User(nil), f.users...), nil
}

func (f *fakeUsers) GetActiveObjectives(ctx context.Context, userID int64) ([]models.LearningObjective, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LearningObjective
	for _, o := range f.objectives {
		if o.UserID == userID && o.Status == models.ObjectiveInProgress {
			o.LinkedEventIDs = f.links[o.ID]
			out = append(out, o)
		}
	}
	return out, nil
}

type pushed struct {
	user      models.User
	dedupeKey string
	text      string
}

// fakePusher records pushes.
type fakePusher struct {
	mu     sync.Mutex
	pushes []pushed
	err    error
}

func (f *fakePusher) Push(ctx context.Context, user models.User, dedupeKey, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushed{user: user, dedupeKey: dedupeKey, text: text})
	return f.err
}

func (f *fakePusher) all() []pushed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pushed(nil), f.pushes...)
}

type fixture struct {
	oracle *fakeOracle
	events *fakeEvents
	users  *fakeUsers
	a      *Assistant
	user   models.User
}

func newFixture() *fixture {
	f := &fixture{oracle: &fakeOracle{}, events: &fakeEvents{}, users: newFakeUsers()}
	f.a = New(f.oracle, f.events, f.users)
	f.user = models.User{ID: 1, ExternalID: "886912345678"}
	f.users.users = append(f.users.users, f.user)
	return f
}

// handle runs one message with the user's stored state, as the router would.
func (f *fixture) handle(text string) string {
	u := f.user
	u.State = f.users.state(u.ID)
	return f.a.Handle(context.Background(), u, text)
}

func (f *fixture) setState(s models.ConversationState) {
	f.users.mu.Lock()
	defer f.users.mu.Unlock()
	if s == nil {
		delete(f.users.states, f.user.ID)
		return
	}
	f.users.states[f.user.ID] = s
}

func returns(intent models.Intent) func(string) (models.Intent, error) {
	return func(string) (models.Intent, error) { return intent, nil }
}

package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linebridge/line-ai-bridge/internal/chatlog"
	"github.com/linebridge/line-ai-bridge/internal/line"
	"github.com/linebridge/line-ai-bridge/internal/settings"
	"github.com/linebridge/line-ai-bridge/internal/state"
)

type stubStateStore struct {
	current *state.ConversationState
	getErr  error

	markHumanCalls  int
	markedNickname  string
	clearHumanCalls int
}

func (s *stubStateStore) Get(ctx context.Context, userID string) (*state.ConversationState, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.current == nil {
		return &state.ConversationState{UserID: userID}, nil
	}
	return s.current, nil
}

func (s *stubStateStore) MarkHuman(ctx context.Context, userID, nickname string, now time.Time) error {
	s.markHumanCalls++
	s.markedNickname = nickname
	return nil
}

func (s *stubStateStore) ClearHuman(ctx context.Context, userID string, now time.Time) error {
	s.clearHumanCalls++
	return nil
}

type stubMessenger struct {
	replies    []string
	pushes     map[string]string
	profile    *line.Profile
	profileErr error
	replyErr   error
}

func (m *stubMessenger) ReplyMessage(ctx context.Context, replyToken, text string) error {
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, text)
	return nil
}

func (m *stubMessenger) PushMessage(ctx context.Context, to, text string) error {
	if m.pushes == nil {
		m.pushes = map[string]string{}
	}
	m.pushes[to] = text
	return nil
}

func (m *stubMessenger) GetProfile(ctx context.Context, userID string) (*line.Profile, error) {
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	return m.profile, nil
}

type stubProvider struct {
	result Result
	err    error
	calls  int
}

func (p *stubProvider) Invoke(ctx context.Context, st *settings.Settings, message string) (Result, error) {
	p.calls++
	if p.err != nil {
		return Result{}, p.err
	}
	return p.result, nil
}

type stubTranscript struct {
	entries []chatlog.Entry
	err     error
}

func (s *stubTranscript) Append(ctx context.Context, e chatlog.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func textEvent(text string) line.Event {
	return line.Event{
		Type:       "message",
		ReplyToken: "rt-1",
		Source:     line.EventSource{Type: "user", UserID: "U123"},
		Message:    &line.MessagePayload{ID: "m1", Type: "text", Text: text},
	}
}

func baseSettings() *settings.Settings {
	return &settings.Settings{
		Provider:         settings.ProviderGPT,
		HandoverKeywords: []string{"真人", "客服"},
		HandoverTimeout:  5 * time.Minute,
		AIEnabled:        true,
		AgentUserIDs:     []string{"Uagent1", "Uagent2"},
	}
}

type engineFixture struct {
	engine     *Engine
	states     *stubStateStore
	messenger  *stubMessenger
	gpt        *stubProvider
	gemini     *stubProvider
	transcript *stubTranscript
}

func newFixture() *engineFixture {
	f := &engineFixture{
		states:     &stubStateStore{},
		messenger:  &stubMessenger{},
		gpt:        &stubProvider{result: Result{Text: "ai answer"}},
		gemini:     &stubProvider{result: Result{Text: "gemini answer"}},
		transcript: &stubTranscript{},
	}
	f.engine = NewEngine(EngineConfig{
		States:     f.states,
		Transcript: f.transcript,
		GPT:        f.gpt,
		Gemini:     f.gemini,
		Now:        func() time.Time { return testNow },
	})
	return f
}

func TestKeywordEscalation(t *testing.T) {
	f := newFixture()
	f.messenger.profile = &line.Profile{UserID: "U123", DisplayName: "小明"}

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("我要找真人客服"))
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalated, outcome)

	require.Equal(t, 1, f.states.markHumanCalls)
	require.Equal(t, "小明", f.states.markedNickname)
	require.Equal(t, []string{escalationReply}, f.messenger.replies)
	require.Len(t, f.messenger.pushes, 2)
	require.Contains(t, f.messenger.pushes["Uagent1"], "小明")
	require.Zero(t, f.gpt.calls)
	require.Zero(t, f.gemini.calls)
}

func TestEscalationProfileFailureUsesFallback(t *testing.T) {
	f := newFixture()
	f.messenger.profileErr = errors.New("profile unavailable")

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("轉真人"))
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalated, outcome)
	require.Empty(t, f.states.markedNickname)
	require.Contains(t, f.messenger.pushes["Uagent1"], fallbackNickname)
}

func TestWhitespaceOnlyKeywordListNeverEscalates(t *testing.T) {
	f := newFixture()
	st := baseSettings()
	st.HandoverKeywords = settings.SplitList("  , ,\t")

	outcome, err := f.engine.Process(context.Background(), st, f.messenger, textEvent("我要找真人客服"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, outcome)
	require.Zero(t, f.states.markHumanCalls)
}

func TestCooldownSuppressesEscalation(t *testing.T) {
	f := newFixture()
	reset := testNow.Add(-2 * time.Minute)
	f.states.current = &state.ConversationState{UserID: "U123", LastAIReset: &reset}

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("真人"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, outcome)
	require.Zero(t, f.states.markHumanCalls)
	require.Equal(t, 1, f.gpt.calls)
}

func TestCooldownExpiredEscalatesAgain(t *testing.T) {
	f := newFixture()
	reset := testNow.Add(-3 * time.Minute)
	f.states.current = &state.ConversationState{UserID: "U123", LastAIReset: &reset}

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("真人"))
	require.NoError(t, err)
	require.Equal(t, OutcomeEscalated, outcome)
	require.Equal(t, 1, f.states.markHumanCalls)
}

func TestHumanModeHoldSuppressesEverything(t *testing.T) {
	f := newFixture()
	last := testNow.Add(-2 * time.Minute)
	f.states.current = &state.ConversationState{UserID: "U123", HumanMode: true, LastHumanInteraction: &last}
	st := baseSettings()
	st.HandoverTimeout = 5 * time.Minute

	outcome, err := f.engine.Process(context.Background(), st, f.messenger, textEvent("還在嗎"))
	require.NoError(t, err)
	require.Equal(t, OutcomeHumanHold, outcome)
	require.Empty(t, f.messenger.replies)
	require.Zero(t, f.gpt.calls)
	require.Zero(t, f.states.clearHumanCalls)
}

func TestHumanModeTimeoutReturnsToAI(t *testing.T) {
	f := newFixture()
	last := testNow.Add(-5 * time.Minute)
	f.states.current = &state.ConversationState{UserID: "U123", HumanMode: true, LastHumanInteraction: &last}
	st := baseSettings()
	st.HandoverTimeout = 5 * time.Minute

	outcome, err := f.engine.Process(context.Background(), st, f.messenger, textEvent("還在嗎"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, outcome)
	require.Equal(t, 1, f.states.clearHumanCalls)
	require.Equal(t, 1, f.gpt.calls)
	require.Equal(t, []string{"ai answer"}, f.messenger.replies)
}

func TestHumanModeWithoutTimestampTimesOut(t *testing.T) {
	f := newFixture()
	f.states.current = &state.ConversationState{UserID: "U123", HumanMode: true}

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, outcome)
	require.Equal(t, 1, f.states.clearHumanCalls)
}

func TestAIDisabledSuppresses(t *testing.T) {
	f := newFixture()
	st := baseSettings()
	st.AIEnabled = false

	outcome, err := f.engine.Process(context.Background(), st, f.messenger, textEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAIDisabled, outcome)
	require.Empty(t, f.messenger.replies)
	require.Zero(t, f.gpt.calls)
}

func TestProviderSelection(t *testing.T) {
	f := newFixture()
	st := baseSettings()
	st.Provider = settings.ProviderGemini

	outcome, err := f.engine.Process(context.Background(), st, f.messenger, textEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, outcome)
	require.Zero(t, f.gpt.calls)
	require.Equal(t, 1, f.gemini.calls)
	require.Equal(t, []string{"gemini answer"}, f.messenger.replies)
}

func TestProviderFailureRepliesWithErrorDetail(t *testing.T) {
	f := newFixture()
	f.gpt.err = errors.New("openai completion failed: rate limited")

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAIError, outcome)
	require.Len(t, f.messenger.replies, 1)
	require.Contains(t, f.messenger.replies[0], "rate limited")
}

func TestEmptyCompletionMeansNoReply(t *testing.T) {
	f := newFixture()
	f.gpt.result = Result{Text: "", CallID: "resp-1"}

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, OutcomeNoReply, outcome)
	require.Empty(t, f.messenger.replies)
}

func TestReplyDispatchFailureDoesNotFailProcessing(t *testing.T) {
	f := newFixture()
	f.messenger.replyErr = errors.New("reply token expired")

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, outcome)
}

func TestStateReadFailurePropagates(t *testing.T) {
	f := newFixture()
	f.states.getErr = errors.New("db down")

	_, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("hello"))
	require.Error(t, err)
}

func TestTranscriptRecordsUserAndAI(t *testing.T) {
	f := newFixture()

	_, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("hello"))
	require.NoError(t, err)

	require.Len(t, f.transcript.entries, 2)
	require.Equal(t, chatlog.SenderUser, f.transcript.entries[0].Sender)
	require.Equal(t, "hello", f.transcript.entries[0].Message)
	require.Equal(t, chatlog.SenderAI, f.transcript.entries[1].Sender)
	require.Equal(t, "gpt", f.transcript.entries[1].Provider)
}

func TestTranscriptFailureIsSwallowed(t *testing.T) {
	f := newFixture()
	f.transcript.err = errors.New("insert failed")

	outcome, err := f.engine.Process(context.Background(), baseSettings(), f.messenger, textEvent("hello"))
	require.NoError(t, err)
	require.Equal(t, OutcomeReplied, outcome)
}

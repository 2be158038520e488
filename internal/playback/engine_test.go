package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/interactive"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedView struct {
	storyID   string
	duration  time.Duration
	completed bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	views []recordedView
	err   error
}

func (r *fakeRecorder) RecordView(_ context.Context, storyID string, d time.Duration, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, recordedView{storyID, d, completed})
	return r.err
}

func (r *fakeRecorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.views))
	for i, v := range r.views {
		out[i] = v.storyID
	}
	return out
}

type fakeResponder struct {
	mu        sync.Mutex
	inputs    map[string]interactive.ResponseInput
	failErr   error
	onRespond func()
}

func (f *fakeResponder) Respond(_ context.Context, elementID string, in interactive.ResponseInput) error {
	if f.onRespond != nil {
		f.onRespond()
	}
	if f.failErr != nil {
		return f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputs == nil {
		f.inputs = make(map[string]interactive.ResponseInput)
	}
	f.inputs[elementID] = in
	return nil
}

func (f *fakeResponder) PollResults(_ context.Context, elementID string) (interactive.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.inputs[elementID]
	counts := map[int]int64{}
	if in.OptionIndex != nil {
		counts[*in.OptionIndex] = 1
	}
	return interactive.Tally([]string{"yes", "no"}, counts), nil
}

// fakePrefetcher reports every URL ready unless hold was called for it.
type fakePrefetcher struct {
	mu      sync.Mutex
	urls    []string
	pending map[string]chan struct{}
}

func (p *fakePrefetcher) Enqueue(urls ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, urls...)
	return len(urls)
}

func (p *fakePrefetcher) Ready(url string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.pending[url]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// hold keeps url loading until the returned func is called.
func (p *fakePrefetcher) hold(url string) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		p.pending = make(map[string]chan struct{})
	}
	ch := make(chan struct{})
	p.pending[url] = ch
	return func() { close(ch) }
}

func image(id string) model.Story {
	return model.Story{ID: id, MediaType: model.MediaImage, MediaURL: "https://cdn.test/" + id}
}

func video(id string, seconds float64) model.Story {
	return model.Story{ID: id, MediaType: model.MediaVideo, MediaURL: "https://cdn.test/" + id, DurationSeconds: &seconds}
}

func sessionGroups() []model.StoryGroup {
	return []model.StoryGroup{
		{AuthorID: "alice", Stories: []model.Story{image("s1"), video("s2", 2)}},
		{AuthorID: "bob", Stories: []model.Story{image("s3")}},
	}
}

func newEngine(t *testing.T, groups []model.StoryGroup, opts Options) (*Engine, *fakeClock, *fakeRecorder) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	if opts.Tick == 0 {
		opts.Tick = time.Second
	}
	opts.Clock = clk.Now
	if opts.Recorder == nil {
		opts.Recorder = rec
	}
	e, err := New(groups, opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, clk, rec
}

func TestEngine_SessionTrace(t *testing.T) {
	e, clk, rec := newEngine(t, sessionGroups(), Options{})

	var sb strings.Builder
	line := func(s State) {
		fmt.Fprintf(&sb, "g=%d s=%d progress=%.0f paused=%t closed=%t\n",
			s.GroupIndex, s.StoryIndex, s.Progress, s.Paused, s.Closed)
	}
	line(e.State())
	e.Subscribe(line)

	tick := func() {
		clk.Advance(time.Second)
		e.Tick()
	}

	tick()
	tick()
	e.Next()
	tick()
	tick() // video completes
	e.Pause(PauseHold)
	tick()
	e.Resume(PauseHold)
	e.Previous()
	e.Next()
	e.Next() // past the end
	e.Next()
	e.Previous()
	e.Close()

	sb.WriteString("--- views\n")
	for _, v := range rec.views {
		fmt.Fprintf(&sb, "view %s %s completed=%t\n", v.storyID, v.duration, v.completed)
	}

	g := goldie.New(t)
	g.Assert(t, "session", []byte(sb.String()))
}

func TestNew_SkipsEmptyGroups(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrNoStories)

	_, err = New([]model.StoryGroup{{AuthorID: "a"}}, Options{})
	assert.ErrorIs(t, err, ErrNoStories)

	e, _, _ := newEngine(t, []model.StoryGroup{{AuthorID: "a"}, {AuthorID: "b", Stories: []model.Story{image("x")}}}, Options{})
	cur, ok := e.Current()
	require.True(t, ok)
	assert.Equal(t, "x", cur.ID)
}

func TestEngine_StartGroup(t *testing.T) {
	e, _, _ := newEngine(t, sessionGroups(), Options{StartGroup: 1})
	assert.Equal(t, 1, e.State().GroupIndex)

	e2, _, _ := newEngine(t, sessionGroups(), Options{StartGroup: 9})
	assert.Equal(t, 0, e2.State().GroupIndex)
}

func TestEngine_PreviousAtFirstStoryIsNoop(t *testing.T) {
	e, _, rec := newEngine(t, sessionGroups(), Options{})
	calls := 0
	e.Subscribe(func(State) { calls++ })

	e.Previous()
	e.Close()

	assert.Equal(t, 1, calls, "only the close should publish")
	assert.Equal(t, []string{"s1"}, rec.ids())
}

func TestEngine_PauseReasonsStack(t *testing.T) {
	e, clk, _ := newEngine(t, sessionGroups(), Options{})

	e.Pause(PauseUser)
	e.Pause(PauseLoading)
	e.Resume(PauseUser)
	assert.True(t, e.State().Paused)

	clk.Advance(time.Second)
	e.Tick()
	assert.Zero(t, e.State().Progress)

	e.Resume(PauseLoading)
	assert.False(t, e.State().Paused)
	e.Tick()
	assert.InDelta(t, 20, e.State().Progress, 0.001)
}

func TestEngine_TogglePause(t *testing.T) {
	e, _, _ := newEngine(t, sessionGroups(), Options{})
	e.TogglePause()
	assert.True(t, e.State().Paused)
	e.TogglePause()
	assert.False(t, e.State().Paused)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e, _, rec := newEngine(t, sessionGroups(), Options{})
	e.Close()
	e.Close()

	assert.Equal(t, []string{"s1"}, rec.ids())
	select {
	case <-e.Done():
	default:
		t.Fatal("done channel not closed")
	}
	_, ok := e.Current()
	assert.False(t, ok)
}

func TestEngine_VideoWithoutDurationUsesImageLength(t *testing.T) {
	s := model.Story{ID: "v", MediaType: model.MediaVideo, MediaURL: "u"}
	assert.Equal(t, DefaultImageDuration, storyDuration(s))
	assert.Equal(t, 2500*time.Millisecond, storyDuration(video("v", 2.5)))
}

func TestEngine_RecorderErrorsDoNotStopPlayback(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	e, _, _ := newEngine(t, sessionGroups(), Options{Recorder: rec})

	e.Next()
	e.Next()
	assert.Equal(t, State{GroupIndex: 1}, e.State())
}

func TestEngine_StartDrivesTicks(t *testing.T) {
	groups := []model.StoryGroup{{AuthorID: "a", Stories: []model.Story{video("v", 0.02)}}}
	rec := &fakeRecorder{}
	e, err := New(groups, Options{Tick: 5 * time.Millisecond, Recorder: rec})
	require.NoError(t, err)

	e.Start()
	e.Start()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	e.Close()

	require.Len(t, rec.views, 1)
	assert.True(t, rec.views[0].completed)
}

func TestEngine_StopHaltsTicker(t *testing.T) {
	e, err := New(sessionGroups(), Options{Tick: time.Millisecond})
	require.NoError(t, err)
	defer e.Close()

	e.Start()
	e.Stop()
	p := e.State()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, p, e.State())
}

func TestEngine_Prefetch(t *testing.T) {
	pf := &fakePrefetcher{}
	groups := []model.StoryGroup{
		{AuthorID: "a", Stories: []model.Story{image("a1"), image("a2")}},
		{AuthorID: "b", Stories: []model.Story{image("b1"), image("b2"), image("b3")}},
	}
	e, _, _ := newEngine(t, groups, Options{Prefetcher: pf})
	assert.Equal(t, []string{
		"https://cdn.test/a1", "https://cdn.test/a2", "https://cdn.test/b1", "https://cdn.test/b2",
	}, pf.urls)

	pf.urls = nil
	e.Next()
	assert.Equal(t, []string{
		"https://cdn.test/a2", "https://cdn.test/b1", "https://cdn.test/b2", "https://cdn.test/b3",
	}, pf.urls)
}

func TestEngine_VotePoll(t *testing.T) {
	s := image("p")
	s.Elements = []model.InteractiveElement{
		{ID: "poll", Type: model.ElementPoll, Data: `{"question":"?","options":["yes","no"]}`},
		{ID: "ask", Type: model.ElementQuestion, Data: `{"question":"why"}`},
	}
	resp := &fakeResponder{}
	e, _, _ := newEngine(t, []model.StoryGroup{{AuthorID: "a", Stories: []model.Story{s}}}, Options{Responder: resp})

	res, err := e.VotePoll(context.Background(), "poll", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)
	assert.EqualValues(t, 1, res.Options[1].Votes)

	_, err = e.VotePoll(context.Background(), "ask", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.VotePoll(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, e.AnswerQuestion(context.Background(), "ask", "because"))
	assert.Equal(t, "because", *resp.inputs["ask"].Text)
}

func TestEngine_ResponseFailureKeepsPlaying(t *testing.T) {
	s := image("p")
	s.Elements = []model.InteractiveElement{{ID: "poll", Type: model.ElementPoll, Data: `{}`}}
	resp := &fakeResponder{failErr: errors.New("offline")}
	e, clk, _ := newEngine(t, []model.StoryGroup{{AuthorID: "a", Stories: []model.Story{s}}}, Options{Responder: resp})

	_, err := e.VotePoll(context.Background(), "poll", 0)
	require.Error(t, err)

	clk.Advance(time.Second)
	e.Tick()
	assert.InDelta(t, 20, e.State().Progress, 0.001)
}

func TestEngine_Countdown(t *testing.T) {
	e, _, _ := newEngine(t, sessionGroups(), Options{})
	el := model.InteractiveElement{Type: model.ElementCountdown, Data: `{"title":"launch","target_date":"2026-03-02T11:30:05Z"}`}
	got, err := e.Countdown(el)
	require.NoError(t, err)
	assert.Equal(t, "1d 01:30:05", got)

	el.Data = `{"title":"past","target_date":"2026-03-01T09:00:00Z"}`
	got, err = e.Countdown(el)
	require.NoError(t, err)
	assert.Equal(t, interactive.Ended, got)

	_, err = e.Countdown(model.InteractiveElement{Type: model.ElementPoll})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEngine_UpdateStory(t *testing.T) {
	e, clk, _ := newEngine(t, sessionGroups(), Options{})
	clk.Advance(time.Second)
	e.Tick()

	caption := "edited"
	s := image("s1")
	s.Caption = &caption
	assert.True(t, e.UpdateStory(s))
	assert.False(t, e.UpdateStory(image("nope")))

	cur, _ := e.Current()
	assert.Equal(t, "edited", *cur.Caption)
	assert.InDelta(t, 20, e.State().Progress, 0.001)
}

func TestEngine_RemoveStory(t *testing.T) {
	groups := func() []model.StoryGroup {
		return []model.StoryGroup{
			{AuthorID: "a", Stories: []model.Story{image("a1")}},
			{AuthorID: "b", Stories: []model.Story{image("b1"), image("b2"), image("b3")}},
			{AuthorID: "c", Stories: []model.Story{image("c1")}},
		}
	}
	at := func(t *testing.T, g, s int) *Engine {
		e, _, _ := newEngine(t, groups(), Options{StartGroup: g})
		for i := 0; i < s; i++ {
			e.Next()
		}
		return e
	}
	current := func(e *Engine) string {
		cur, ok := e.Current()
		if !ok {
			return "closed"
		}
		return cur.ID
	}

	tests := []struct {
		name    string
		group   int
		story   int
		remove  string
		want    string
		wantIdx State
	}{
		{"earlier group emptied", 1, 1, "a1", "b2", State{GroupIndex: 0, StoryIndex: 1}},
		{"earlier story same group", 1, 2, "b1", "b3", State{GroupIndex: 1, StoryIndex: 1}},
		{"later story", 1, 0, "b3", "b1", State{GroupIndex: 1, StoryIndex: 0}},
		{"current moves to next in group", 1, 1, "b2", "b3", State{GroupIndex: 1, StoryIndex: 1}},
		{"current last in group", 1, 2, "b3", "c1", State{GroupIndex: 2, StoryIndex: 0}},
		{"current group emptied", 0, 0, "a1", "b1", State{GroupIndex: 0, StoryIndex: 0}},
		{"last story closes", 2, 0, "c1", "closed", State{GroupIndex: 2, StoryIndex: 0, Closed: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := at(t, tt.group, tt.story)
			require.True(t, e.RemoveStory(tt.remove))
			assert.Equal(t, tt.want, current(e))
			st := e.State()
			assert.Equal(t, tt.wantIdx.GroupIndex, st.GroupIndex)
			assert.Equal(t, tt.wantIdx.StoryIndex, st.StoryIndex)
			assert.Equal(t, tt.wantIdx.Closed, st.Closed)
		})
	}

	e := at(t, 0, 0)
	assert.False(t, e.RemoveStory("missing"))
}

func TestEngine_RemoveCurrentDoesNotRecord(t *testing.T) {
	e, _, rec := newEngine(t, sessionGroups(), Options{})
	require.True(t, e.RemoveStory("s1"))
	e.Close()
	assert.Equal(t, []string{"s2"}, rec.ids())
}

func TestEngine_WaitsForMedia(t *testing.T) {
	pf := &fakePrefetcher{}
	loaded := pf.hold("https://cdn.test/s1")
	e, clk, rec := newEngine(t, sessionGroups(), Options{Prefetcher: pf})

	assert.True(t, e.State().Paused)
	clk.Advance(time.Second)
	e.Tick()
	assert.Zero(t, e.State().Progress)

	clk.Advance(time.Second)
	loaded()
	require.Eventually(t, func() bool { return !e.State().Paused }, time.Second, 5*time.Millisecond)

	clk.Advance(time.Second)
	e.Tick()
	assert.InDelta(t, 20, e.State().Progress, 0.001)

	e.Next()
	e.Close()
	require.Len(t, rec.views, 2)
	assert.Equal(t, time.Second, rec.views[0].duration, "view time starts once media is ready")
}

func TestEngine_StaleLoadDoesNotResume(t *testing.T) {
	pf := &fakePrefetcher{}
	firstLoaded := pf.hold("https://cdn.test/s1")
	pf.hold("https://cdn.test/s2")
	e, _, _ := newEngine(t, sessionGroups(), Options{Prefetcher: pf})
	require.True(t, e.State().Paused)

	e.Next()
	assert.True(t, e.State().Paused)

	firstLoaded()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, e.State().Paused, "s2 is still loading")

	e.Next()
	assert.False(t, e.State().Paused)
}

func TestEngine_LoadingKeepsOtherReasons(t *testing.T) {
	pf := &fakePrefetcher{}
	loaded := pf.hold("https://cdn.test/s1")
	e, _, _ := newEngine(t, sessionGroups(), Options{Prefetcher: pf})

	e.Pause(PauseUser)
	loaded()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, e.State().Paused)

	e.Resume(PauseUser)
	assert.False(t, e.State().Paused)
}

func TestEngine_FocusAndBlur(t *testing.T) {
	s := image("p")
	s.Elements = []model.InteractiveElement{{ID: "poll", Type: model.ElementPoll, Data: `{}`}}
	groups := []model.StoryGroup{{AuthorID: "a", Stories: []model.Story{s, image("q")}}}
	e, clk, _ := newEngine(t, groups, Options{})

	assert.ErrorIs(t, e.Focus("missing"), apperr.ErrNotFound)
	assert.False(t, e.State().Paused)

	require.NoError(t, e.Focus("poll"))
	assert.True(t, e.State().Paused)
	clk.Advance(time.Second)
	e.Tick()
	assert.Zero(t, e.State().Progress)

	e.Blur()
	assert.False(t, e.State().Paused)

	require.NoError(t, e.Focus("poll"))
	e.Next()
	assert.False(t, e.State().Paused, "focus belongs to the story left behind")
}

func TestEngine_PausedWhileResponding(t *testing.T) {
	s := image("p")
	s.Elements = []model.InteractiveElement{
		{ID: "poll", Type: model.ElementPoll, Data: `{}`},
		{ID: "ask", Type: model.ElementQuestion, Data: `{"question":"why"}`},
	}
	resp := &fakeResponder{}
	e, _, _ := newEngine(t, []model.StoryGroup{{AuthorID: "a", Stories: []model.Story{s}}}, Options{Responder: resp})

	var during []bool
	resp.onRespond = func() { during = append(during, e.State().Paused) }

	_, err := e.VotePoll(context.Background(), "poll", 0)
	require.NoError(t, err)
	assert.False(t, e.State().Paused)

	require.NoError(t, e.Focus("ask"))
	require.NoError(t, e.AnswerQuestion(context.Background(), "ask", "because"))
	assert.True(t, e.State().Paused, "an explicit focus outlives the answer")

	assert.Equal(t, []bool{true, true}, during)
}

func TestEngine_CloseDetachesSubscribers(t *testing.T) {
	e, _, _ := newEngine(t, sessionGroups(), Options{})
	var got []State
	e.Subscribe(func(s State) { got = append(got, s) })

	e.Close()
	require.Len(t, got, 1)
	assert.True(t, got[0].Closed)

	e.cell.Set(State{GroupIndex: 1})
	assert.Len(t, got, 1)
}

func TestEngine_ThrottlesRecorderWarnings(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.L()
	logger.Set(zap.New(core))
	defer logger.Set(prev)

	rec := &fakeRecorder{err: errors.New("db down")}
	e, _, _ := newEngine(t, sessionGroups(), Options{Recorder: rec})
	e.Next()
	e.Next()
	e.Close()

	assert.Len(t, rec.ids(), 3)
	assert.Equal(t, 1, logs.FilterMessage("record view failed").Len())
}

// Package playback drives a viewing session through grouped stories: timed
// progress, navigation, pause reasons and interactive responses.
package playback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/interactive"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/ratelimit"
	"github.com/d60-Lab/storyline/pkg/logger"
	"github.com/d60-Lab/storyline/pkg/observable"
)

const (
	DefaultTick          = 50 * time.Millisecond
	DefaultImageDuration = 5 * time.Second

	prefetchAhead = 3
	viewQueueSize = 64
	recordTimeout = 5 * time.Second
	warnEvery     = 10 * time.Second
)

var ErrNoStories = errors.New("playback: no stories to play")

type PauseReason string

const (
	PauseUser    PauseReason = "user"
	PauseHold    PauseReason = "hold"
	PauseFocus   PauseReason = "focus"
	PauseLoading PauseReason = "loading"
)

// State is the observable position of a session. Progress is 0..100.
type State struct {
	GroupIndex int
	StoryIndex int
	Progress   float64
	Paused     bool
	Closed     bool
}

// Recorder stores views. It runs off the playback path; errors are logged.
type Recorder interface {
	RecordView(ctx context.Context, storyID string, duration time.Duration, completed bool) error
}

// Responder stores interactive responses.
type Responder interface {
	Respond(ctx context.Context, elementID string, in interactive.ResponseInput) error
	PollResults(ctx context.Context, elementID string) (interactive.PollResult, error)
}

// Prefetcher warms media ahead of playback. Ready is closed once a URL has
// been attempted; the engine holds PauseLoading on the current story until then.
type Prefetcher interface {
	Enqueue(urls ...string) int
	Ready(url string) <-chan struct{}
}

type Options struct {
	Tick       time.Duration
	Recorder   Recorder
	Responder  Responder
	Prefetcher Prefetcher
	// Context carries the viewer identity to Recorder calls.
	Context    context.Context
	Clock      func() time.Time
	StartGroup int
}

type viewRecord struct {
	storyID   string
	duration  time.Duration
	completed bool
}

// Engine is one viewing session. Subscribers to State run under the
// engine lock and must not call back into mutating methods.
type Engine struct {
	mu        sync.Mutex
	groups    []model.StoryGroup
	st        State
	cell      *observable.Cell[State]
	pauses    map[PauseReason]struct{}
	startedAt time.Time
	done      chan struct{}
	loadGen   uint64

	tick       time.Duration
	now        func() time.Time
	ctx        context.Context
	recorder   Recorder
	responder  Responder
	prefetcher Prefetcher
	warns      *ratelimit.Throttler

	views       chan viewRecord
	viewsClosed bool
	workerDone  chan struct{}

	tickerStop chan struct{}
	tickerDone chan struct{}
	tickerExit chan struct{}
}

func New(groups []model.StoryGroup, opts Options) (*Engine, error) {
	gs := make([]model.StoryGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Stories) == 0 {
			continue
		}
		g.Stories = append([]model.Story(nil), g.Stories...)
		gs = append(gs, g)
	}
	if len(gs) == 0 {
		return nil, ErrNoStories
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	start := opts.StartGroup
	if start < 0 || start >= len(gs) {
		start = 0
	}

	e := &Engine{
		groups:     gs,
		st:         State{GroupIndex: start},
		pauses:     make(map[PauseReason]struct{}),
		done:       make(chan struct{}),
		tick:       opts.Tick,
		now:        opts.Clock,
		ctx:        opts.Context,
		recorder:   opts.Recorder,
		responder:  opts.Responder,
		prefetcher: opts.Prefetcher,
	}
	e.warns = ratelimit.NewThrottler().WithClock(e.now)
	e.cell = observable.NewCell(e.st)
	e.startedAt = e.now()
	e.mu.Lock()
	e.prefetchLocked()
	e.awaitMediaLocked()
	e.publishLocked()
	e.mu.Unlock()
	if e.recorder != nil {
		e.views = make(chan viewRecord, viewQueueSize)
		e.workerDone = make(chan struct{})
		go e.recordLoop()
	}
	return e, nil
}

func (e *Engine) State() State { return e.cell.Get() }

// Subscribe registers fn for state changes.
func (e *Engine) Subscribe(fn func(State)) func() { return e.cell.Subscribe(fn) }

// Done is closed when the session reaches its terminal state.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Current returns the story on screen.
func (e *Engine) Current() (model.Story, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed {
		return model.Story{}, false
	}
	return e.currentLocked(), true
}

// Tick advances progress by one interval unless paused. On reaching 100 it
// records a completed view and moves on.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed || e.st.Paused {
		return
	}
	cur := e.currentLocked()
	e.st.Progress += float64(e.tick) / float64(storyDuration(cur)) * 100
	if e.st.Progress >= 100-1e-9 {
		e.st.Progress = 100
		e.recordLocked(cur.ID, true)
		e.advanceLocked()
	}
	e.publishLocked()
}

// Next leaves the current story, closing the session after the last one.
func (e *Engine) Next() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed {
		return
	}
	e.recordLocked(e.currentLocked().ID, false)
	e.advanceLocked()
	e.publishLocked()
}

// Previous steps back, into the previous group's last story when at the
// start of a group. It does nothing on the very first story.
func (e *Engine) Previous() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed {
		return
	}
	switch {
	case e.st.StoryIndex > 0:
		e.recordLocked(e.currentLocked().ID, false)
		e.st.StoryIndex--
	case e.st.GroupIndex > 0:
		e.recordLocked(e.currentLocked().ID, false)
		e.st.GroupIndex--
		e.st.StoryIndex = len(e.groups[e.st.GroupIndex].Stories) - 1
	default:
		return
	}
	e.resetLocked()
	e.publishLocked()
}

// Pause holds progress until every reason is resumed.
func (e *Engine) Pause(r PauseReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed {
		return
	}
	e.pauses[r] = struct{}{}
	e.st.Paused = true
	e.publishLocked()
}

func (e *Engine) Resume(r PauseReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed {
		return
	}
	delete(e.pauses, r)
	e.st.Paused = len(e.pauses) > 0
	e.publishLocked()
}

// TogglePause flips the user pause.
func (e *Engine) TogglePause() {
	e.mu.Lock()
	_, paused := e.pauses[PauseUser]
	e.mu.Unlock()
	if paused {
		e.Resume(PauseUser)
	} else {
		e.Pause(PauseUser)
	}
}

// Close records a view for the current story, ends the session and waits
// for background work to finish. Subscribers see the closed state and are
// then detached. Calling it again is a no-op.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.st.Closed {
		e.recordLocked(e.currentLocked().ID, false)
		e.closeLocked()
		e.publishLocked()
	}
	e.cell.Close()
	tickerExit := e.tickerExit
	e.mu.Unlock()

	if tickerExit != nil {
		<-tickerExit
	}
	if e.workerDone != nil {
		<-e.workerDone
	}
}

// Start runs the progress timer until Stop or Close.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.st.Closed || e.tickerStop != nil {
		e.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	e.tickerStop, e.tickerDone = stop, done
	tick := e.tick
	e.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				e.Tick()
			}
		}
	}()
}

// Stop halts the progress timer; Start resumes it.
func (e *Engine) Stop() {
	e.mu.Lock()
	done := e.haltTickerLocked()
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Focus pauses playback while the viewer interacts with an element of the
// current story. Moving to another story drops the focus.
func (e *Engine) Focus(elementID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed {
		return apperr.NotFound("story")
	}
	if _, ok := findElement(e.currentLocked(), elementID); !ok {
		return apperr.NotFound("element")
	}
	e.pauses[PauseFocus] = struct{}{}
	e.st.Paused = true
	e.publishLocked()
	return nil
}

// Blur ends a Focus.
func (e *Engine) Blur() { e.Resume(PauseFocus) }

// VotePoll records the viewer's choice and returns the aggregated results.
// Playback stays paused while the vote is in flight. Failures leave the
// position untouched.
func (e *Engine) VotePoll(ctx context.Context, elementID string, option int) (interactive.PollResult, error) {
	if _, err := e.element(elementID, model.ElementPoll); err != nil {
		return interactive.PollResult{}, err
	}
	defer e.holdFocus()()
	if err := e.respond(ctx, elementID, interactive.ResponseInput{OptionIndex: &option}); err != nil {
		return interactive.PollResult{}, err
	}
	return e.responder.PollResults(ctx, elementID)
}

// AnswerQuestion records a free-text answer, paused like VotePoll.
func (e *Engine) AnswerQuestion(ctx context.Context, elementID, text string) error {
	if _, err := e.element(elementID, model.ElementQuestion); err != nil {
		return err
	}
	defer e.holdFocus()()
	return e.respond(ctx, elementID, interactive.ResponseInput{Text: &text})
}

// holdFocus pauses for focus and returns the matching release. A focus the
// caller already holds is left in place.
func (e *Engine) holdFocus() func() {
	e.mu.Lock()
	_, held := e.pauses[PauseFocus]
	e.mu.Unlock()
	if held {
		return func() {}
	}
	e.Pause(PauseFocus)
	return func() { e.Resume(PauseFocus) }
}

// Countdown renders a countdown element's remaining time.
func (e *Engine) Countdown(el model.InteractiveElement) (string, error) {
	if el.Type != model.ElementCountdown {
		return "", apperr.Validation("element is not a countdown")
	}
	var d interactive.CountdownData
	if err := json.Unmarshal([]byte(el.Data), &d); err != nil {
		return "", err
	}
	return interactive.Remaining(d.TargetDate, e.now()), nil
}

// UpdateStory replaces a story's data in place. Position and progress are
// left alone.
func (e *Engine) UpdateStory(s model.Story) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for gi := range e.groups {
		for si := range e.groups[gi].Stories {
			if e.groups[gi].Stories[si].ID == s.ID {
				e.groups[gi].Stories[si] = s
				return true
			}
		}
	}
	return false
}

// RemoveStory drops a story, keeping the viewer on the same story when it
// was not the one removed. Removing the current story moves on without
// recording a view.
func (e *Engine) RemoveStory(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Closed {
		return false
	}
	gi, si := e.find(id)
	if gi < 0 {
		return false
	}
	cur := &e.st
	g := &e.groups[gi]
	g.Stories = append(g.Stories[:si], g.Stories[si+1:]...)
	emptied := len(g.Stories) == 0
	if emptied {
		e.groups = append(e.groups[:gi], e.groups[gi+1:]...)
	}

	switch {
	case gi < cur.GroupIndex:
		if emptied {
			cur.GroupIndex--
		}
	case gi > cur.GroupIndex:
	case si < cur.StoryIndex:
		cur.StoryIndex--
	case si > cur.StoryIndex:
	default:
		switch {
		case emptied && cur.GroupIndex < len(e.groups):
			cur.StoryIndex = 0
		case emptied:
			e.closeLocked()
		case cur.StoryIndex < len(e.groups[cur.GroupIndex].Stories):
		case cur.GroupIndex+1 < len(e.groups):
			cur.GroupIndex++
			cur.StoryIndex = 0
		default:
			e.closeLocked()
		}
		if !cur.Closed {
			e.resetLocked()
		}
	}
	e.publishLocked()
	return true
}

func (e *Engine) find(id string) (int, int) {
	for gi, g := range e.groups {
		for si, s := range g.Stories {
			if s.ID == id {
				return gi, si
			}
		}
	}
	return -1, -1
}

func (e *Engine) element(id string, typ model.ElementType) (model.InteractiveElement, error) {
	if e.responder == nil {
		return model.InteractiveElement{}, errors.New("playback: responses disabled")
	}
	cur, ok := e.Current()
	if !ok {
		return model.InteractiveElement{}, apperr.NotFound("story")
	}
	el, ok := findElement(cur, id)
	if !ok {
		return model.InteractiveElement{}, apperr.NotFound("element")
	}
	if el.Type != typ {
		return el, apperr.Validation("element is a %s, not a %s", el.Type, typ)
	}
	return el, nil
}

func findElement(s model.Story, id string) (model.InteractiveElement, bool) {
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return model.InteractiveElement{}, false
}

func (e *Engine) respond(ctx context.Context, elementID string, in interactive.ResponseInput) error {
	if err := e.responder.Respond(ctx, elementID, in); err != nil {
		logger.Warn("record response failed", zap.String("element_id", elementID), zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) currentLocked() model.Story {
	return e.groups[e.st.GroupIndex].Stories[e.st.StoryIndex]
}

func (e *Engine) advanceLocked() {
	g := e.groups[e.st.GroupIndex]
	switch {
	case e.st.StoryIndex+1 < len(g.Stories):
		e.st.StoryIndex++
	case e.st.GroupIndex+1 < len(e.groups):
		e.st.GroupIndex++
		e.st.StoryIndex = 0
	default:
		e.closeLocked()
		return
	}
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.st.Progress = 0
	e.startedAt = e.now()
	delete(e.pauses, PauseFocus)
	e.prefetchLocked()
	e.awaitMediaLocked()
}

// awaitMediaLocked holds PauseLoading until the prefetcher reports the
// current story's media ready. A wait left over from an earlier story is
// ignored.
func (e *Engine) awaitMediaLocked() {
	e.loadGen++
	delete(e.pauses, PauseLoading)
	e.st.Paused = len(e.pauses) > 0
	if e.prefetcher == nil {
		return
	}
	ready := e.prefetcher.Ready(e.currentLocked().MediaURL)
	select {
	case <-ready:
		return
	default:
	}
	e.pauses[PauseLoading] = struct{}{}
	e.st.Paused = true
	gen, done := e.loadGen, e.done
	go func() {
		select {
		case <-ready:
		case <-done:
			return
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.st.Closed || gen != e.loadGen {
			return
		}
		// view time counts from when the media is ready
		e.startedAt = e.now()
		delete(e.pauses, PauseLoading)
		e.st.Paused = len(e.pauses) > 0
		e.publishLocked()
	}()
}

func (e *Engine) closeLocked() {
	e.st.Closed = true
	if d := e.haltTickerLocked(); d != nil {
		e.tickerExit = d
	}
	if e.views != nil && !e.viewsClosed {
		close(e.views)
		e.viewsClosed = true
	}
	close(e.done)
}

func (e *Engine) haltTickerLocked() chan struct{} {
	if e.tickerStop == nil {
		return nil
	}
	close(e.tickerStop)
	done := e.tickerDone
	e.tickerStop, e.tickerDone = nil, nil
	return done
}

func (e *Engine) publishLocked() { e.cell.Set(e.st) }

// recordLocked queues a view without blocking playback.
func (e *Engine) recordLocked(storyID string, completed bool) {
	if e.views == nil || e.viewsClosed {
		return
	}
	v := viewRecord{storyID: storyID, duration: e.now().Sub(e.startedAt), completed: completed}
	select {
	case e.views <- v:
	default:
		e.warn("view queue full, drop view", zap.String("story_id", storyID))
	}
}

func (e *Engine) recordLoop() {
	defer close(e.workerDone)
	for v := range e.views {
		ctx, cancel := context.WithTimeout(e.ctx, recordTimeout)
		if err := e.recorder.RecordView(ctx, v.storyID, v.duration, v.completed); err != nil {
			e.warn("record view failed", zap.String("story_id", v.storyID), zap.Error(err))
		}
		cancel()
	}
}

// warn logs msg at most once per warnEvery.
func (e *Engine) warn(msg string, fields ...zap.Field) {
	e.warns.Throttle(msg, warnEvery, func() { logger.Warn(msg, fields...) })
}

func (e *Engine) prefetchLocked() {
	if e.prefetcher == nil {
		return
	}
	urls := make([]string, 0, prefetchAhead+1)
	gi, si := e.st.GroupIndex, e.st.StoryIndex
	for len(urls) <= prefetchAhead && gi < len(e.groups) {
		urls = append(urls, e.groups[gi].Stories[si].MediaURL)
		si++
		if si >= len(e.groups[gi].Stories) {
			gi, si = gi+1, 0
		}
	}
	e.prefetcher.Enqueue(urls...)
}

// storyDuration is the video length, or DefaultImageDuration for images and
// videos of unknown length.
func storyDuration(s model.Story) time.Duration {
	if s.MediaType == model.MediaVideo && s.DurationSeconds != nil && *s.DurationSeconds > 0 {
		return time.Duration(*s.DurationSeconds * float64(time.Second))
	}
	return DefaultImageDuration
}

package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengeoguess/core/internal/apierr"
	"github.com/opengeoguess/core/internal/geo"
	"github.com/opengeoguess/core/internal/locationstore"
	"github.com/opengeoguess/core/internal/match"
	"github.com/opengeoguess/core/internal/metrics"
)

// LocationPicker is the boundary to the location store (§4.2) a
// Supervisor calls between rounds.
type LocationPicker interface {
	PickLocation(ctx context.Context, mapID string) (locationstore.Location, error)
}

// MatchPersister is the persistence collaborator (§6 `persist_finished_match`).
type MatchPersister interface {
	PersistFinishedMatch(ctx context.Context, rec match.FinalRecord) error
}

// Config parameterizes a Supervisor's timing and backpressure behavior.
type Config struct {
	InboundBufferSize  int           // default 256 (§4.4)
	BroadcastBufferLen int           // default 64
	InterRoundDelay    time.Duration // default 5s (§4.3 RoundEnd)
	AbandonmentTimeout time.Duration // default 60s (§4.3 Abandoned)
	Metrics            *metrics.Collectors // optional; nil disables instrumentation
}

func (c Config) withDefaults() Config {
	if c.InboundBufferSize <= 0 {
		c.InboundBufferSize = 256
	}
	if c.BroadcastBufferLen <= 0 {
		c.BroadcastBufferLen = 64
	}
	if c.InterRoundDelay <= 0 {
		c.InterRoundDelay = 5 * time.Second
	}
	if c.AbandonmentTimeout <= 0 {
		c.AbandonmentTimeout = 60 * time.Second
	}
	return c
}

// Result is the synchronous reply to a command (§4.4).
type Result struct {
	Snapshot match.Snapshot
	Err      error
}

// command is the internal envelope every public method sends on Inbound.
type command struct {
	kind  commandKind
	reply chan Result

	playerID   match.PlayerID
	playerInfo match.PlayerInfo
	patch      match.SettingsPatch
	lat, lng   float64
	timeTaken  *int
	roundIndex int // for timerExpired / self-checks
}

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdStart
	cmdUpdateSettings
	cmdGuess
	cmdTimerExpired
	cmdAdvanceRound
)

// Supervisor owns one match.Match exclusively (§4.4). Construct with New
// and run its command loop with Run in a dedicated goroutine.
type Supervisor struct {
	id      string
	m       *match.Match
	scoring geo.ScoringConfig
	picker  LocationPicker
	persist MatchPersister
	cfg     Config
	log     zerolog.Logger

	inbound     chan command
	broadcaster *broadcaster
	version     uint64

	done chan struct{}
}

// New constructs a Supervisor for an already-built Lobby match.
func New(m *match.Match, scoring geo.ScoringConfig, picker LocationPicker, persist MatchPersister, cfg Config, log zerolog.Logger) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		id:          m.ID,
		m:           m,
		scoring:     scoring,
		picker:      picker,
		persist:     persist,
		cfg:         cfg,
		log:         log.With().Str("match_id", m.ID).Logger(),
		inbound:     make(chan command, cfg.InboundBufferSize),
		broadcaster: newBroadcaster(cfg.BroadcastBufferLen),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a new broadcast receiver (§4.4, §4.6).
func (s *Supervisor) Subscribe() (uint64, <-chan Event) {
	return s.broadcaster.Subscribe()
}

// Unsubscribe removes a broadcast receiver.
func (s *Supervisor) Unsubscribe(id uint64) {
	s.broadcaster.Unsubscribe(id)
}

// Done reports when the Supervisor's Run loop has exited (match Finished
// or Abandoned, or Run's context canceled).
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) send(ctx context.Context, cmd command) Result {
	cmd.reply = make(chan Result, 1)
	select {
	case s.inbound <- cmd:
	case <-ctx.Done():
		return Result{Err: apierr.Wrap(apierr.CodeBusy, "submitting command", ctx.Err())}
	default:
		return Result{Err: apierr.New(apierr.CodeBusy, "supervisor inbound queue full")}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-ctx.Done():
		return Result{Err: apierr.Wrap(apierr.CodeBusy, "awaiting reply", ctx.Err())}
	}
}

// Join submits a Join command (§6 `join`).
func (s *Supervisor) Join(ctx context.Context, player match.PlayerInfo) Result {
	return s.send(ctx, command{kind: cmdJoin, playerInfo: player})
}

// Leave submits a Leave command (§6 `leave`).
func (s *Supervisor) Leave(ctx context.Context, playerID match.PlayerID) Result {
	return s.send(ctx, command{kind: cmdLeave, playerID: playerID})
}

// Start submits a Start command (§6 `start`).
func (s *Supervisor) Start(ctx context.Context, playerID match.PlayerID) Result {
	return s.send(ctx, command{kind: cmdStart, playerID: playerID})
}

// UpdateSettings submits an UpdateSettings command (§6 `update_settings`).
func (s *Supervisor) UpdateSettings(ctx context.Context, playerID match.PlayerID, patch match.SettingsPatch) Result {
	return s.send(ctx, command{kind: cmdUpdateSettings, playerID: playerID, patch: patch})
}

// SubmitGuess submits a Guess command (§6 `submit_guess`).
func (s *Supervisor) SubmitGuess(ctx context.Context, playerID match.PlayerID, lat, lng float64, timeTakenMs *int) Result {
	return s.send(ctx, command{kind: cmdGuess, playerID: playerID, lat: lat, lng: lng, timeTaken: timeTakenMs})
}

// Run drains the inbound command channel until ctx is canceled or the
// match reaches a terminal state and is released. Exactly one goroutine
// must call Run for a given Supervisor (§4.4 single-writer).
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	abandonTimer := time.NewTimer(s.cfg.AbandonmentTimeout)
	defer abandonTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.inbound:
			s.handle(ctx, cmd)
			abandonTimer.Reset(s.cfg.AbandonmentTimeout)
			if s.m.State == match.StateFinished || s.m.State == match.StateAbandoned {
				return
			}
		case <-abandonTimer.C:
			if s.m.AllDisconnected() {
				s.abandon(ctx)
				return
			}
			abandonTimer.Reset(s.cfg.AbandonmentTimeout)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdJoin:
		err := s.m.Join(cmd.playerInfo, time.Now())
		s.reply(cmd, err)
		if err == nil {
			s.broadcaster.Publish(Event{Kind: EventPlayerJoined, PlayerJoined: &PlayerMembershipPayload{
				PlayerID: cmd.playerInfo.ID, DisplayName: cmd.playerInfo.DisplayName,
			}})
			s.publishSnapshot()
		}

	case cmdLeave:
		err := s.m.Leave(cmd.playerID)
		s.reply(cmd, err)
		if err == nil {
			s.broadcaster.Publish(Event{Kind: EventPlayerLeft, PlayerLeft: &PlayerMembershipPayload{PlayerID: cmd.playerID}})
			s.publishSnapshot()
		}

	case cmdUpdateSettings:
		err := s.m.UpdateSettings(cmd.playerID, cmd.patch)
		s.reply(cmd, err)
		if err == nil {
			s.publishSnapshot()
		}

	case cmdStart:
		s.handleStart(ctx, cmd)

	case cmdAdvanceRound:
		s.handleAdvanceRound(ctx)

	case cmdGuess:
		s.handleGuess(cmd)

	case cmdTimerExpired:
		s.handleTimerExpired(ctx, cmd)
	}
}

func (s *Supervisor) reply(cmd command, err error) {
	if cmd.reply == nil {
		return
	}
	cmd.reply <- Result{Snapshot: s.m.Snapshot(s.version), Err: err}
}

func (s *Supervisor) handleStart(ctx context.Context, cmd command) {
	loc, err := s.picker.PickLocation(ctx, s.m.Settings.MapID)
	if err != nil {
		s.reply(cmd, err)
		return
	}

	var timeLimitMs *int64
	if s.m.Settings.TimeLimitSeconds > 0 {
		ms := int64(s.m.Settings.TimeLimitSeconds) * 1000
		timeLimitMs = &ms
	}

	if err := s.m.Start(cmd.playerID, toMatchLocation(loc), timeLimitMs, time.Now()); err != nil {
		s.reply(cmd, err)
		return
	}
	s.reply(cmd, nil)
	s.onRoundStarted(ctx, timeLimitMs)
}

func (s *Supervisor) countRoundStart() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RoundsStarted.Inc()
	}
}

func (s *Supervisor) countGuess() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.GuessesAccepted.Inc()
	}
}

func (s *Supervisor) handleAdvanceRound(ctx context.Context) {
	if s.m.State != match.StateRoundEnd {
		return // a manual start/race already moved state on; no-op
	}

	loc, err := s.picker.PickLocation(ctx, s.m.Settings.MapID)
	if err != nil {
		s.log.Error().Err(err).Msg("picking location for next round")
		return
	}

	var timeLimitMs *int64
	if s.m.Settings.TimeLimitSeconds > 0 {
		ms := int64(s.m.Settings.TimeLimitSeconds) * 1000
		timeLimitMs = &ms
	}

	if err := s.m.AdvanceRound(toMatchLocation(loc), timeLimitMs, time.Now()); err != nil {
		s.log.Error().Err(err).Msg("advancing round")
		return
	}
	s.onRoundStarted(ctx, timeLimitMs)
}

func (s *Supervisor) onRoundStarted(ctx context.Context, timeLimitMs *int64) {
	round := s.m.CurrentRound()
	s.countRoundStart()

	s.broadcaster.Publish(Event{Kind: EventRoundStart, RoundStart: &RoundStartPayload{
		RoundNumber: round.Index,
		TotalRounds: s.m.Settings.Rounds,
		Location:    round.Location,
		TimeLimitMs: timeLimitMs,
		StartedAt:   round.StartedAt.UnixMilli(),
	}})
	s.publishSnapshot()

	if timeLimitMs != nil {
		delay := time.Duration(*timeLimitMs) * time.Millisecond
		roundIndex := round.Index
		time.AfterFunc(delay, func() {
			s.enqueueTimerExpired(ctx, roundIndex)
		})
	}
}

// enqueueTimerExpired is called from a time.AfterFunc goroutine; it must
// not touch s.m directly, only post a command onto the inbound channel so
// the single-writer discipline holds. handleTimerExpired re-validates the
// round index against current state, so a stale timer from a round that
// already advanced is a harmless no-op.
func (s *Supervisor) enqueueTimerExpired(ctx context.Context, roundIndex int) {
	select {
	case s.inbound <- command{kind: cmdTimerExpired, roundIndex: roundIndex, reply: nil}:
	case <-ctx.Done():
	case <-s.done:
	}
}

func (s *Supervisor) handleTimerExpired(ctx context.Context, cmd command) {
	round := s.m.CurrentRound()
	if round == nil || round.Index != cmd.roundIndex || s.m.State != match.StateActive {
		return // stale timer; round already advanced
	}
	s.endCurrentRound(ctx)
}

func (s *Supervisor) handleGuess(cmd command) {
	guess, complete, err := s.m.SubmitGuess(cmd.playerID, cmd.lat, cmd.lng, cmd.timeTaken, time.Now(), s.scoring)
	s.reply(cmd, err)
	if err != nil {
		return
	}
	s.countGuess()

	player := s.m.Players[cmd.playerID]
	displayName := ""
	if player != nil {
		displayName = player.DisplayName
	}
	s.broadcaster.Publish(Event{Kind: EventPlayerGuessed, PlayerGuessed: &PlayerGuessedPayload{
		PlayerID: guess.PlayerID, DisplayName: displayName,
	}})
	s.publishSnapshot()

	if complete {
		s.endCurrentRound(context.Background())
	}
}

func (s *Supervisor) endCurrentRound(ctx context.Context) {
	round := s.m.CurrentRound()
	results, finished, err := s.m.EndRound(time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("ending round")
		return
	}

	s.broadcaster.Publish(Event{Kind: EventRoundEnd, RoundEnd: &RoundEndPayload{
		RoundNumber:     round.Index,
		CorrectLocation: round.Location,
		Results:         results,
	}})
	s.publishSnapshot()

	if finished {
		s.finishMatch(ctx)
		return
	}

	time.AfterFunc(s.cfg.InterRoundDelay, func() {
		s.enqueueAdvanceRound(ctx)
	})
}

func (s *Supervisor) enqueueAdvanceRound(ctx context.Context) {
	select {
	case s.inbound <- command{kind: cmdAdvanceRound}:
	case <-ctx.Done():
	case <-s.done:
	}
}

func (s *Supervisor) finishMatch(ctx context.Context) {
	standings, err := s.m.Finish(time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("finishing match")
		return
	}

	s.broadcaster.Publish(Event{Kind: EventGameEnd, GameEnd: &GameEndPayload{
		MatchID: s.m.ID, FinalStandings: standings,
	}})
	s.publishSnapshot()

	if s.persist != nil {
		rec := s.m.ToFinalRecord(standings)
		if err := s.persist.PersistFinishedMatch(ctx, rec); err != nil {
			s.log.Error().Err(err).Msg("persisting finished match")
		}
	}
}

func (s *Supervisor) abandon(ctx context.Context) {
	if err := s.m.Abandon(time.Now()); err != nil {
		return
	}
	s.publishSnapshot()
}

func (s *Supervisor) publishSnapshot() {
	s.version++
	snap := s.m.Snapshot(s.version)
	s.broadcaster.Publish(Event{Kind: EventSnapshot, Snapshot: &snap})
}

func toMatchLocation(loc locationstore.Location) match.Location {
	return match.Location{
		LocationID: loc.LocationID,
		Lat:        loc.Lat,
		Lng:        loc.Lng,
		PanoramaID: loc.PanoramaID,
		Heading:    loc.Heading,
	}
}

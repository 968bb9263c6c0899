package gateway

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opengeoguess/core/internal/apierr"
	"github.com/opengeoguess/core/internal/geo"
	"github.com/opengeoguess/core/internal/match"
	"github.com/opengeoguess/core/internal/metrics"
	"github.com/opengeoguess/core/internal/sessioncache"
	"github.com/opengeoguess/core/internal/supervisor"
)

const (
	joinCodeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I
	joinCodeLength      = 6
	joinCodeMaxAttempts = 8 // §9 open-question decision: try this many codes in total, then INTERNAL_ERROR
	commandReplyTimeout = 5 * time.Second
)

// localMatch is one match this instance has claimed and is actively
// running a Supervisor for.
type localMatch struct {
	sup    *supervisor.Supervisor
	cancel context.CancelFunc
}

// Registry owns every Supervisor this instance runs locally, claims and
// renews match ownership through the Live Session Cache (§4.5), and
// forwards commands for matches owned by another instance by publishing
// Command envelopes on that match's dedicated command channel (§4.6
// step 2) instead of mutating state it doesn't own.
type Registry struct {
	cache    sessioncache.Cache
	instance sessioncache.InstanceID
	picker   supervisor.LocationPicker
	persist  supervisor.MatchPersister
	scoring  geo.ScoringConfig
	cfg      supervisor.Config
	log      zerolog.Logger
	metrics  *metrics.Collectors

	mu    sync.Mutex
	local map[string]*localMatch
}

func NewRegistry(cache sessioncache.Cache, instance sessioncache.InstanceID, picker supervisor.LocationPicker, persist supervisor.MatchPersister, scoring geo.ScoringConfig, cfg supervisor.Config, log zerolog.Logger) *Registry {
	return &Registry{
		cache:    cache,
		instance: instance,
		picker:   picker,
		persist:  persist,
		scoring:  scoring,
		cfg:      cfg,
		log:      log,
		metrics:  cfg.Metrics,
		local:    make(map[string]*localMatch),
	}
}

func (r *Registry) countClaimMiss() {
	if r.metrics != nil {
		r.metrics.ClaimMisses.Inc()
	}
}

// CreateMatch validates settings (INVALID_SETTINGS carrying the first
// violation), builds a new Lobby match, claims it for this instance
// (guaranteed to succeed since the match id is freshly generated),
// registers a join code, and spawns its Supervisor.
func (r *Registry) CreateMatch(ctx context.Context, mode match.Mode, settings match.Settings, host match.PlayerInfo) (*supervisor.Supervisor, string, error) {
	gs := geo.MatchSettings{Rounds: settings.Rounds, TimeLimitSeconds: settings.TimeLimitSeconds, MapID: settings.MapID}
	if violations := gs.Validate(); len(violations) > 0 {
		return nil, "", apierr.New(apierr.CodeInvalidSettings, violations[0].Error())
	}

	matchID := newMatchID()

	joinCode, err := r.registerJoinCode(ctx, matchID)
	if err != nil {
		return nil, "", err
	}

	m := match.New(matchID, mode, settings, joinCode, time.Now())
	if err := m.Join(host, time.Now()); err != nil {
		return nil, "", err
	}

	if _, claimed, err := r.cache.Claim(ctx, matchID, r.instance, sessioncache.DefaultLease); err != nil {
		return nil, "", apierr.Wrap(apierr.CodeCacheUnavailable, "claiming new match", err)
	} else if !claimed {
		r.countClaimMiss()
		return nil, "", apierr.New(apierr.CodeInternal, "collision claiming freshly generated match id")
	}

	sup := r.spawnLocal(ctx, m)
	return sup, joinCode, nil
}

func (r *Registry) registerJoinCode(ctx context.Context, matchID string) (string, error) {
	for attempt := 0; attempt < joinCodeMaxAttempts; attempt++ {
		code := generateJoinCode()
		ok, err := r.cache.RegisterJoinCode(ctx, code, matchID, sessioncache.DefaultJoinCodeTTL)
		if err != nil {
			return "", apierr.Wrap(apierr.CodeCacheUnavailable, "registering join code", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", apierr.New(apierr.CodeInternal, "exhausted join code collision retries")
}

func generateJoinCode() string {
	b := make([]byte, joinCodeLength)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(joinCodeAlphabet))))
		b[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(b)
}

// newMatchID mints a fresh identifier for a match or an inter-instance
// command's RequestID (§4.6 step 2) — both just need a collision-free
// opaque string, so both share this generator.
func newMatchID() string {
	return uuid.New().String()
}

// ResolveJoinCode looks up which match a join code refers to.
func (r *Registry) ResolveJoinCode(ctx context.Context, code string) (string, bool, error) {
	matchID, ok, err := r.cache.ResolveJoinCode(ctx, code)
	if err != nil {
		return "", false, apierr.Wrap(apierr.CodeCacheUnavailable, "resolving join code", err)
	}
	return matchID, ok, nil
}

func (r *Registry) spawnLocal(ctx context.Context, m *match.Match) *supervisor.Supervisor {
	runCtx, cancel := context.WithCancel(ctx)
	sup := supervisor.New(m, r.scoring, r.picker, r.persist, r.cfg, r.log)

	lm := &localMatch{sup: sup, cancel: cancel}
	r.mu.Lock()
	r.local[m.ID] = lm
	r.mu.Unlock()

	go sup.Run(runCtx)
	go r.drainCommandChannel(runCtx, m.ID, sup)
	go r.republishEvents(runCtx, m.ID, sup)
	go r.renewLease(runCtx, m.ID, sup)
	go func() {
		<-sup.Done()
		cancel()
		_ = r.cache.Release(context.Background(), m.ID, r.instance)
		r.mu.Lock()
		delete(r.local, m.ID)
		r.mu.Unlock()
	}()

	return sup
}

// renewLease keeps this instance's claim alive for as long as the
// Supervisor is running. Three consecutive renewal failures mean the
// lease was lost or the cache is unreachable, and another instance may
// now believe it owns the match; the Supervisor is then stopped (its run
// context canceled), which releases the claim and drops the match from
// this instance (§5 "Claim lease").
func (r *Registry) renewLease(ctx context.Context, matchID string, sup *supervisor.Supervisor) {
	ticker := time.NewTicker(sessioncache.DefaultLeaseRenew)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sup.Done():
			return
		case <-ticker.C:
			renewed, err := r.cache.RenewClaim(ctx, matchID, r.instance, sessioncache.DefaultLease)
			if err != nil || !renewed {
				failures++
				r.countClaimMiss()
				r.log.Warn().Str("match_id", matchID).Int("failures", failures).Err(err).Msg("claim renewal failed")
				if failures >= 3 {
					r.log.Error().Str("match_id", matchID).Msg("lost claim lease after 3 failures, releasing match")
					r.mu.Lock()
					lm, ok := r.local[matchID]
					r.mu.Unlock()
					if ok {
						lm.cancel()
					}
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// commandEnvelope is what a non-owning instance publishes to request a
// mutation on a match it does not own (§4.6 step 2).
type commandEnvelope struct {
	RequestID  string              `json:"request_id"`
	Kind       string              `json:"kind"`
	PlayerID   match.PlayerID      `json:"player_id,omitempty"`
	PlayerInfo *match.PlayerInfo   `json:"player_info,omitempty"`
	Patch      *match.SettingsPatch `json:"patch,omitempty"`
	Lat        float64             `json:"lat,omitempty"`
	Lng        float64             `json:"lng,omitempty"`
	TimeTaken  *int                `json:"time_taken_ms,omitempty"`
}

type commandReply struct {
	RequestID string `json:"request_id"`
	Snapshot  *match.Snapshot `json:"snapshot,omitempty"`
	Err       string `json:"error,omitempty"`
}

func commandChannel(matchID string) string { return "cmd:" + matchID }
func replyChannel(matchID string) string   { return "cmdreply:" + matchID }
func eventsChannel(matchID string) string  { return "events:" + matchID }

// republishEvents re-publishes a locally-owned match's broadcast stream,
// already wire-encoded, onto the Live Session Cache so that gateway
// instances which don't own this match can relay it to their own
// subscribed sockets (§4.6 step 3, "cross-instance broadcast is the only
// way round events reach sockets on non-owning instances", §4.5).
func (r *Registry) republishEvents(ctx context.Context, matchID string, sup *supervisor.Supervisor) {
	id, ch := sup.Subscribe()
	defer sup.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			frame, err := encodeEvent(ev)
			if err != nil {
				continue
			}
			if err := r.cache.Publish(ctx, eventsChannel(matchID), frame); err != nil {
				r.log.Warn().Err(err).Str("match_id", matchID).Msg("republishing event to cache")
			}
		}
	}
}

// SubscribeEvents exposes the cross-instance event channel for matchID
// so a gateway connection relaying a remote-owned match's broadcasts can
// subscribe the same way it would to a local Supervisor.
func (r *Registry) SubscribeEvents(ctx context.Context, matchID string) (<-chan sessioncache.Message, func(), error) {
	return r.cache.Subscribe(ctx, eventsChannel(matchID))
}

// drainCommandChannel runs for the lifetime of a locally-owned match,
// executing commands forwarded by instances that don't own it.
func (r *Registry) drainCommandChannel(ctx context.Context, matchID string, sup *supervisor.Supervisor) {
	ch, unsub, err := r.cache.Subscribe(ctx, commandChannel(matchID))
	if err != nil {
		r.log.Error().Err(err).Str("match_id", matchID).Msg("subscribing to command channel")
		return
	}
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Lagged {
				continue // a dropped command is reported to its caller via its own timeout
			}
			var env commandEnvelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				continue
			}
			result := r.execute(ctx, sup, env)
			reply := commandReply{RequestID: env.RequestID, Snapshot: &result.Snapshot}
			if result.Err != nil {
				reply.Err = result.Err.Error()
			}
			payload, _ := json.Marshal(reply)
			_ = r.cache.Publish(ctx, replyChannel(matchID), payload)
		}
	}
}

func (r *Registry) execute(ctx context.Context, sup *supervisor.Supervisor, env commandEnvelope) supervisor.Result {
	switch env.Kind {
	case string(inJoin):
		info := match.PlayerInfo{ID: env.PlayerID}
		if env.PlayerInfo != nil {
			info = *env.PlayerInfo
		}
		return sup.Join(ctx, info)
	case string(inLeave):
		return sup.Leave(ctx, env.PlayerID)
	case string(inStart):
		return sup.Start(ctx, env.PlayerID)
	case string(inUpdateSettings):
		patch := match.SettingsPatch{}
		if env.Patch != nil {
			patch = *env.Patch
		}
		return sup.UpdateSettings(ctx, env.PlayerID, patch)
	case string(inSubmitGuess):
		return sup.SubmitGuess(ctx, env.PlayerID, env.Lat, env.Lng, env.TimeTaken)
	default:
		return supervisor.Result{Err: apierr.New(apierr.CodeInvalidState, "unknown forwarded command kind")}
	}
}

// lookupLocal returns the Supervisor this instance is running for
// matchID, if any.
func (r *Registry) lookupLocal(matchID string) (*supervisor.Supervisor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lm, ok := r.local[matchID]
	if !ok {
		return nil, false
	}
	return lm.sup, true
}

// Dispatch executes a command against matchID, whether this instance
// owns it (direct call) or another instance does (forward via the Live
// Session Cache's generic pub/sub, §4.6 step 2).
func (r *Registry) Dispatch(ctx context.Context, matchID string, env commandEnvelope) (supervisor.Result, error) {
	if sup, ok := r.lookupLocal(matchID); ok {
		return r.execute(ctx, sup, env), nil
	}

	owner, found, err := r.cache.Lookup(ctx, matchID)
	if err != nil {
		return supervisor.Result{}, apierr.Wrap(apierr.CodeCacheUnavailable, "looking up match owner", err)
	}
	if !found {
		return supervisor.Result{}, apierr.New(apierr.CodeMatchNotFound, "match not claimed by any instance")
	}
	if owner == r.instance {
		// claimed by us per the cache but no local Supervisor: lost track
		// of our own match (should not happen absent a bug); surface it.
		return supervisor.Result{}, apierr.New(apierr.CodeInternal, "instance owns match per cache but has no local supervisor")
	}

	return r.forward(ctx, matchID, env)
}

func (r *Registry) forward(ctx context.Context, matchID string, env commandEnvelope) (supervisor.Result, error) {
	env.RequestID = newMatchID()

	ctx, cancel := context.WithTimeout(ctx, commandReplyTimeout)
	defer cancel()

	ch, unsub, err := r.cache.Subscribe(ctx, replyChannel(matchID))
	if err != nil {
		return supervisor.Result{}, apierr.Wrap(apierr.CodeCacheUnavailable, "subscribing for forwarded reply", err)
	}
	defer unsub()

	payload, err := json.Marshal(env)
	if err != nil {
		return supervisor.Result{}, apierr.Wrap(apierr.CodeInternal, "encoding forwarded command", err)
	}
	if err := r.cache.Publish(ctx, commandChannel(matchID), payload); err != nil {
		return supervisor.Result{}, apierr.Wrap(apierr.CodeCacheUnavailable, "publishing forwarded command", err)
	}

	for {
		select {
		case <-ctx.Done():
			return supervisor.Result{}, apierr.Wrap(apierr.CodeBusy, "timed out awaiting forwarded reply", ctx.Err())
		case msg, ok := <-ch:
			if !ok {
				return supervisor.Result{}, apierr.New(apierr.CodeCacheUnavailable, "reply channel closed")
			}
			if msg.Lagged {
				continue
			}
			var reply commandReply
			if err := json.Unmarshal(msg.Payload, &reply); err != nil {
				continue
			}
			if reply.RequestID != env.RequestID {
				continue // another caller's reply on the same shared channel
			}
			result := supervisor.Result{}
			if reply.Snapshot != nil {
				result.Snapshot = *reply.Snapshot
			}
			if reply.Err != "" {
				result.Err = apierr.New(apierr.CodeInternal, reply.Err)
			}
			return result, nil
		}
	}
}

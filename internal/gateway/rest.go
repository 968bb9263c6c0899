package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/opengeoguess/core/internal/apierr"
	"github.com/opengeoguess/core/internal/auth"
	"github.com/opengeoguess/core/internal/match"
)

// createMatchRequest is the REST-side counterpart of §4.6 step 2's match
// creation: the realtime wire protocol only ever joins a match that
// already exists, so a match is born here, not on the socket.
type createMatchRequest struct {
	Mode             string `json:"mode"`
	Rounds           int    `json:"rounds"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
	MapID            string `json:"map_id"`
	MovementAllowed  bool   `json:"movement_allowed"`
	ZoomAllowed      bool   `json:"zoom_allowed"`
	RotationAllowed  bool   `json:"rotation_allowed"`
}

type createMatchResponse struct {
	MatchID  string `json:"match_id"`
	JoinCode string `json:"join_code"`
}

type resolveJoinCodeResponse struct {
	MatchID string `json:"match_id"`
}

// RESTHandler exposes the small HTTP surface that sits beside the
// WebSocket gateway: creating a match and resolving a join code to a
// match id. Grounded on the `gorilla/mux`-routed REST API shape used by
// the pack's `dzfranklin-contourguessr-api` sibling, the closest
// dependency match for a location-guessing service's HTTP surface.
type RESTHandler struct {
	resolver auth.PlayerResolver
	registry *Registry
	log      zerolog.Logger
}

func NewRESTHandler(resolver auth.PlayerResolver, registry *Registry, log zerolog.Logger) *RESTHandler {
	return &RESTHandler{resolver: resolver, registry: registry, log: log}
}

// Register mounts the REST surface onto r.
func (h *RESTHandler) Register(r *mux.Router) {
	r.HandleFunc("/matches", h.createMatch).Methods(http.MethodPost)
	r.HandleFunc("/join/{code}", h.resolveJoinCode).Methods(http.MethodGet)
}

func (h *RESTHandler) createMatch(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.New(apierr.CodeInvalidState, "malformed request body"))
		return
	}

	mode := match.ModeMultiplayer
	if req.Mode == string(match.ModeSolo) {
		mode = match.ModeSolo
	}
	settings := match.Settings{
		Rounds:           req.Rounds,
		TimeLimitSeconds: req.TimeLimitSeconds,
		MapID:            req.MapID,
		MovementAllowed:  req.MovementAllowed,
		ZoomAllowed:      req.ZoomAllowed,
		RotationAllowed:  req.RotationAllowed,
	}
	host := match.PlayerInfo{ID: identity.ID, DisplayName: identity.DisplayName, AvatarURL: identity.AvatarURL, IsGuest: identity.IsGuest}

	_, joinCode, err := h.registry.CreateMatch(r.Context(), mode, settings, host)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createMatchResponse{JoinCode: joinCode})
}

func (h *RESTHandler) resolveJoinCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	matchID, ok, err := h.registry.ResolveJoinCode(r.Context(), code)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if !ok {
		writeAPIError(w, apierr.New(apierr.CodeMatchNotFound, "unknown join code"))
		return
	}

	writeJSON(w, http.StatusOK, resolveJoinCodeResponse{MatchID: matchID})
}

func writeAPIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apierr.CodeInternal
	if apiErr, ok := err.(*apierr.Error); ok {
		code = apiErr.Code
		switch code {
		case apierr.CodeMatchNotFound:
			status = http.StatusNotFound
		case apierr.CodeInvalidState:
			status = http.StatusBadRequest
		case apierr.CodeBusy, apierr.CodeCacheUnavailable, apierr.CodeStoreUnavailable:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, errorPayload{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

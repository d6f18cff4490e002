package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"polar-fitness-sync/internal/events"
	"polar-fitness-sync/internal/session"
)

// EventsHandler handles the per-user events stream endpoint
type EventsHandler struct {
	broker      *events.Broker
	logger      *slog.Logger
	pollTimeout time.Duration
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(broker *events.Broker) *EventsHandler {
	return &EventsHandler{
		broker:      broker,
		logger:      slog.Default(),
		pollTimeout: 30 * time.Second,
	}
}

// HandleEvents handles GET /api/events with optional long-polling
// Query parameters:
//   - cursor: Last eventId seen (default: 0)
//   - limit: Maximum events to return (default: 100, max: 1000)
//   - long_poll: Enable long-polling (default: false)
//
// Only the caller's own events are returned.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	query := r.URL.Query()

	cursor := int64(0)
	if cursorStr := query.Get("cursor"); cursorStr != "" {
		var err error
		cursor, err = strconv.ParseInt(cursorStr, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid cursor parameter")
			return
		}
	}

	limit := 100
	if limitStr := query.Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		if limit < 1 || limit > 1000 {
			respondWithError(w, http.StatusBadRequest, "Limit must be between 1 and 1000")
			return
		}
	}

	// Parse long_poll parameter (default: false)
	longPoll := false
	if query.Has("long_poll") && query.Get("long_poll") == "" {
		longPoll = true
	} else if longPollStr := query.Get("long_poll"); longPollStr != "" {
		longPoll = longPollStr == "true" || longPollStr == "1"
	}

	h.logger.Debug("Events request", "user_id", s.UserID, "cursor", cursor, "limit", limit, "long_poll", longPoll)

	var list []events.Event
	if longPoll {
		list = h.longPollEvents(r.Context(), s.UserID, cursor, limit)
	} else {
		list = h.broker.Since(s.UserID, cursor, limit)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"cursor": latestCursor(list, cursor),
	})
}

// longPollEvents waits until the user has events after cursor, the poll
// times out, or the client goes away
func (h *EventsHandler) longPollEvents(ctx context.Context, userID string, cursor int64, limit int) []events.Event {
	// Subscribe before reading history so nothing published in between is missed
	ch, cancel := h.broker.Subscribe(userID, 1)
	defer cancel()

	if list := h.broker.Since(userID, cursor, limit); len(list) > 0 {
		return list
	}

	timer := time.NewTimer(h.pollTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return []events.Event{}
		case <-timer.C:
			h.logger.Debug("Long-poll timeout, returning empty", "user_id", userID, "cursor", cursor)
			return []events.Event{}
		case e := <-ch:
			if list := h.broker.Since(userID, cursor, limit); len(list) > 0 {
				return list
			}
			if e.EventID > cursor {
				return []events.Event{e}
			}
		}
	}
}

// latestCursor returns the last eventId in list, or the original cursor
func latestCursor(list []events.Event, current int64) int64 {
	if len(list) == 0 {
		return current
	}
	return list[len(list)-1].EventID
}

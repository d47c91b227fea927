package api

import (
	"errors"
	"net/http"

	"github.com/hackgods/hospital-booking/internal/notification"
)

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unread := q.Get("unread") == "true" || q.Get("unread") == "1"

	page, err := h.notifications.List(r.Context(), principal(r).ID, unread, queryInt(q.Get("page"), 1), queryInt(q.Get("perPage"), 20))
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.notifications.MarkRead(r.Context(), id, principal(r).ID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, notification.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
	default:
		h.internalError(w, r, err)
	}
}

func (h *handlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context(), principal(r).ID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

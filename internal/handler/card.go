package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/moxie-stats/internal/service"
)

var errCardFailed = errors.New("failed to generate image")

// CardImage renders the stats card described by the query parameters
func (h *Handler) CardImage(w http.ResponseWriter, r *http.Request) {
	q := service.ParseCardQuery(r.URL.Query())

	png, err := h.cards.RenderCard(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Str("handle", q.Profile.Handle).Msg("Failed to generate card")
		h.writeError(w, http.StatusInternalServerError, errCardFailed)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

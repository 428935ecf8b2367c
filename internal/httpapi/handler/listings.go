package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"matchd/internal/market"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ListingsHandler is the intake path used by the posting service: a
// committed listing always carries its match fan-out job.
type ListingsHandler struct {
	Svc *market.Service
}

type createListingReq struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	LocationCode string `json:"location_code"`
	BudgetMin    int64  `json:"budget_min"`
	BudgetMax    int64  `json:"budget_max"`
}

func (h *ListingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createListingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	id, err := h.Svc.CreateListing(r.Context(), market.CreateListingInput{
		Title:         req.Title,
		Description:   req.Description,
		Category:      req.Category,
		LocationCode:  req.LocationCode,
		BudgetMin:     req.BudgetMin,
		BudgetMax:     req.BudgetMax,
		CorrelationID: chimw.GetReqID(r.Context()),
	})
	if err != nil {
		if errors.Is(err, market.ErrInvalidListing) {
			http.Error(w, "title required", http.StatusBadRequest)
			return
		}
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

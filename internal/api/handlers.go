package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fundval/pkg/fundval"
)

const (
	maxRequestBody = 1 << 20
	maxHistoryDays = 365
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"})
}

func (h *handler) fundInfo(w http.ResponseWriter, r *http.Request) {
	code, err := fundCode(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	snapshot, err := h.engine.FundInfo(r.Context(), code)
	if err != nil {
		writeErrorResponse(w, http.StatusBadGateway, err)
		return
	}
	writeSuccess(w, snapshot)
}

type historyResponse struct {
	Code   string                    `json:"code"`
	Days   int                       `json:"days"`
	Points []fundval.NavHistoryPoint `json:"points"`
}

func (h *handler) fundHistory(w http.ResponseWriter, r *http.Request) {
	code, err := fundCode(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	days, err := parseDays(r.URL.Query().Get("days"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, historyResponse{
		Code:   code,
		Days:   days,
		Points: h.engine.History(r.Context(), code, days),
	})
}

func (h *handler) recentChanges(w http.ResponseWriter, r *http.Request) {
	code, err := fundCode(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, map[string]string{
		"code":    code,
		"changes": h.engine.RecentChanges(r.Context(), code),
	})
}

func (h *handler) calculate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	holdings, err := fundval.DecodeHoldings(body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, h.engine.Calculate(r.Context(), holdings))
}

// Helpers.

func fundCode(r *http.Request) (string, error) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		return "", fundval.NewError(fundval.ErrCodeInvalidInput, "fund code is required")
	}
	return code, nil
}

// parseDays returns 0 for an empty value, which selects the engine default.
func parseDays(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(value)
	if err != nil || days <= 0 || days > maxHistoryDays {
		return 0, fundval.NewError(fundval.ErrCodeInvalidInput, fmt.Sprintf("days must be between 1 and %d", maxHistoryDays))
	}
	return days, nil
}

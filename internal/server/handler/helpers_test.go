package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavelmarket/gavel/internal/domain"
)

func TestWriteServiceErrorMapping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotListed, http.StatusNotFound},
		{domain.ErrNoBids, http.StatusNotFound},
		{domain.ErrNotOwner, http.StatusForbidden},
		{domain.ErrNotSeller, http.StatusForbidden},
		{domain.ErrNotReceiver, http.StatusForbidden},
		{domain.ErrBidTooLow, http.StatusConflict},
		{domain.ErrBidActive, http.StatusConflict},
		{domain.ErrAuctionOpen, http.StatusConflict},
		{domain.ErrAuctionEnded, http.StatusConflict},
		{domain.ErrNoCredits, http.StatusConflict},
		{domain.ErrInvalidAccount, http.StatusBadRequest},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrEscrowFailed, http.StatusBadGateway},
		{domain.ErrWithdrawFailed, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", domain.ErrBidTooLow), http.StatusConflict},
		{fmt.Errorf("some internal failure"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeServiceError(w, logger, tc.err)
		if w.Code != tc.want {
			t.Errorf("writeServiceError(%v) = %d, want %d", tc.err, w.Code, tc.want)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Errorf("writeServiceError(%v): non-JSON body %q", tc.err, w.Body.String())
			continue
		}
		if body["error"] == "" {
			t.Errorf("writeServiceError(%v): empty error message", tc.err)
		}
	}
}

func TestWriteServiceErrorHidesInternalDetail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := httptest.NewRecorder()
	writeServiceError(w, logger, fmt.Errorf("pgx: connection refused to 10.0.0.1"))

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("non-JSON body: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Fatalf("internal detail leaked: %q", body["error"])
	}
}

func TestParseListOpts(t *testing.T) {
	cases := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"?limit=10&offset=20", 10, 20},
		{"?limit=9999", 500, 0},
		{"?limit=-5&offset=-1", 50, 0},
	}

	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/listings"+tc.query, nil)
		opts := parseListOpts(r)
		if opts.Limit != tc.wantLimit || opts.Offset != tc.wantOffset {
			t.Errorf("parseListOpts(%q) = limit %d offset %d, want %d/%d",
				tc.query, opts.Limit, opts.Offset, tc.wantLimit, tc.wantOffset)
		}
	}
}

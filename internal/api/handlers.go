package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/deals/internal/model"
	"github.com/sells-group/deals/internal/store"
)

type listMeta struct {
	Count         int    `json:"count"`
	Region        string `json:"region,omitempty"`
	Query         string `json:"query,omitempty"`
	OfferPeriodID int64  `json:"offer_period_id,omitempty"`
	Timestamp     string `json:"timestamp"`
}

type listResponse[T any] struct {
	Data []T      `json:"data"`
	Meta listMeta `json:"meta"`
}

type itemResponse[T any] struct {
	Data T `json:"data"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

func (s *Server) currentDeals(w http.ResponseWriter, r *http.Request) error {
	region := r.URL.Query().Get("region")
	if region == "" {
		region = model.DefaultRegion
	}
	date := r.URL.Query().Get("date")
	if date != "" && !model.ValidDate(date) {
		return Errorf(http.StatusBadRequest, "Invalid date parameter: %s (expected YYYY-MM-DD)", date)
	}

	offers, err := s.store.GetCurrentOffers(r.Context(), region, date)
	if err != nil {
		return Errorf(http.StatusInternalServerError, "Failed to fetch current deals: %v", err)
	}
	if offers == nil {
		offers = []model.CurrentOffer{}
	}
	writeJSON(w, r, http.StatusOK, listResponse[model.CurrentOffer]{
		Data: offers,
		Meta: listMeta{Count: len(offers), Region: region, Timestamp: s.timestamp()},
	})
	return nil
}

func (s *Server) searchDeals(w http.ResponseWriter, r *http.Request) error {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		return Errorf(http.StatusBadRequest, "Missing required query parameter: q")
	}

	offers, err := s.store.SearchOffers(r.Context(), q)
	if err != nil {
		return Errorf(http.StatusInternalServerError, "Failed to search deals: %v", err)
	}
	if offers == nil {
		offers = []model.CurrentOffer{}
	}
	writeJSON(w, r, http.StatusOK, listResponse[model.CurrentOffer]{
		Data: offers,
		Meta: listMeta{Count: len(offers), Query: q, Timestamp: s.timestamp()},
	})
	return nil
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Errorf(http.StatusRequestEntityTooLarge, "Request body exceeds %d bytes", MaxBodyBytes)
		}
		return Errorf(http.StatusBadRequest, "Failed to read request body: %v", err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Errorf(http.StatusBadRequest, "Request body must be an array of deals")
	}
	var deals []model.Deal
	if err := json.Unmarshal(trimmed, &deals); err != nil {
		return Errorf(http.StatusBadRequest, "Invalid deals payload: %v", err)
	}

	res, err := s.store.IngestDeals(r.Context(), deals)
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			return Errorf(http.StatusBadRequest, "%s", vErr.Error())
		}
		return Errorf(http.StatusInternalServerError, "Failed to ingest deals: %v", err)
	}

	dealsIngestedTotal.Add(float64(res.Details.Count))
	zap.L().Info("deals ingested", zap.Int("count", res.Details.Count))
	writeJSON(w, r, http.StatusOK, res)
	return nil
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) error {
	sku := chi.URLParam(r, "sku")

	p, err := s.store.GetProductBySKU(r.Context(), sku)
	if err != nil {
		return Errorf(http.StatusInternalServerError, "Failed to fetch product: %v", err)
	}
	if p == nil {
		p, err = s.store.GetProductByAltSKU(r.Context(), sku)
		if err != nil {
			return Errorf(http.StatusInternalServerError, "Failed to fetch product: %v", err)
		}
	}
	if p == nil {
		return Errorf(http.StatusNotFound, "Product not found: %s", sku)
	}
	writeJSON(w, r, http.StatusOK, itemResponse[*model.Product]{Data: p})
	return nil
}

type createAliasRequest struct {
	AltSKU string `json:"alt_sku"`
	SKU    string `json:"sku"`
}

func (s *Server) createAlias(w http.ResponseWriter, r *http.Request) error {
	var req createAliasRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		return Errorf(http.StatusBadRequest, "Invalid request body: %v", err)
	}
	req.AltSKU = strings.TrimSpace(req.AltSKU)
	req.SKU = strings.TrimSpace(req.SKU)
	if req.AltSKU == "" {
		return Errorf(http.StatusBadRequest, "Missing required field: alt_sku")
	}
	if req.SKU == "" {
		return Errorf(http.StatusBadRequest, "Missing required field: sku")
	}

	p, err := s.store.GetProductBySKU(r.Context(), req.SKU)
	if err != nil {
		return Errorf(http.StatusInternalServerError, "Failed to create alias: %v", err)
	}
	if p == nil {
		return Errorf(http.StatusNotFound, "Product not found: %s", req.SKU)
	}

	a, err := s.store.CreateAlias(r.Context(), model.CreateAlias{ProductID: p.ID, AltSKU: req.AltSKU})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Errorf(http.StatusConflict, "Alias already exists: %s", req.AltSKU)
		}
		return Errorf(http.StatusInternalServerError, "Failed to create alias: %v", err)
	}
	writeJSON(w, r, http.StatusCreated, itemResponse[*model.Alias]{Data: a})
	return nil
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) error {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Errorf(http.StatusBadRequest, "Invalid offer period id: %s", raw)
	}

	snaps, err := s.store.ListSnapshots(r.Context(), id)
	if err != nil {
		return Errorf(http.StatusInternalServerError, "Failed to fetch snapshots: %v", err)
	}
	if snaps == nil {
		snaps = []model.OfferSnapshot{}
	}
	writeJSON(w, r, http.StatusOK, listResponse[model.OfferSnapshot]{
		Data: snaps,
		Meta: listMeta{Count: len(snaps), OfferPeriodID: id, Timestamp: s.timestamp()},
	})
	return nil
}

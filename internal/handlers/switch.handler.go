package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/internal/repository"
	"github.com/finvault/lastwish-gateway/internal/services"
	xhttp "github.com/finvault/lastwish-gateway/pkg/http"
)

type SwitchService interface {
	CheckIn(ctx context.Context, userID string) (*model.Switch, error)
	UpdateSettings(ctx context.Context, p model.SwitchUpsertRequest) (*model.Switch, error)
	Status(ctx context.Context, userID string) (*services.SwitchStatus, error)
	Reset(ctx context.Context, userID string) (*model.Switch, error)
	Deliveries(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error)
}

type SwitchHandler struct {
	svc SwitchService
}

// RegisterSwitchRoutes wires the Last Wish endpoints. Authorization is
// enforced upstream: by the time a request lands here the user_id has
// been authenticated.
func RegisterSwitchRoutes(e *router.Group, h *SwitchHandler) {
	e.POST("/last-wish/check-in", h.CheckIn)
	e.GET("/last-wish/status", h.GetStatus)
	e.PUT("/last-wish/settings", h.UpdateSettings)
	e.POST("/last-wish/reset", h.Reset)
	e.GET("/last-wish/deliveries", h.ListDeliveries)
}

func NewSwitchHandler(switchService SwitchService) *SwitchHandler {
	return &SwitchHandler{
		svc: switchService,
	}
}

type checkInRequest struct {
	UserID string `json:"user_id"`
}

type deliveryListResponse struct {
	Items []*model.Delivery `json:"items"`
	Total int64             `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *SwitchHandler) CheckIn(ctx *xhttp.RequestCtx) {
	var req checkInRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(ctx, 400, "user_id is required")
		return
	}

	sw, err := h.svc.CheckIn(ctx, req.UserID)
	if err != nil {
		writeSwitchError(ctx, err)
		return
	}
	writeJSON(ctx, 200, sw)
}

func (h *SwitchHandler) GetStatus(ctx *xhttp.RequestCtx) {
	userID := query(ctx, "user_id")
	if userID == "" {
		writeError(ctx, 400, "user_id is required")
		return
	}

	status, err := h.svc.Status(ctx, userID)
	if err != nil {
		writeSwitchError(ctx, err)
		return
	}
	writeJSON(ctx, 200, status)
}

func (h *SwitchHandler) UpdateSettings(ctx *xhttp.RequestCtx) {
	var req model.SwitchUpsertRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	sw, err := h.svc.UpdateSettings(ctx, req)
	if err != nil {
		writeSwitchError(ctx, err)
		return
	}
	writeJSON(ctx, 200, sw)
}

func (h *SwitchHandler) Reset(ctx *xhttp.RequestCtx) {
	var req checkInRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(ctx, 400, "user_id is required")
		return
	}

	sw, err := h.svc.Reset(ctx, req.UserID)
	if err != nil {
		writeSwitchError(ctx, err)
		return
	}
	writeJSON(ctx, 200, sw)
}

func (h *SwitchHandler) ListDeliveries(ctx *xhttp.RequestCtx) {
	var f model.DeliveryFilter

	userID := query(ctx, "user_id")
	if userID == "" {
		writeError(ctx, 400, "user_id is required")
		return
	}
	f.UserID = &userID

	if v := query(ctx, "status"); v != "" {
		status := model.DeliveryStatus(v)
		f.Status = &status
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	f.Desc = query(ctx, "order") != "asc"

	items, total, err := h.svc.Deliveries(ctx, f)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, deliveryListResponse{Items: items, Total: total})
}

/* -------------------------------- Helpers ----------------------------------- */

func writeSwitchError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, model.ErrSwitchNotFound):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, model.ErrAlreadyDelivered):
		// Final: the switch cannot be revived by check-in, only by an
		// explicit reset.
		writeError(ctx, 409, err.Error())
	case errors.Is(err, repository.ErrNotTerminal):
		writeError(ctx, 409, err.Error())
	case errors.Is(err, model.ErrNotEnabled):
		writeError(ctx, 400, err.Error())
	default:
		writeError(ctx, 400, err.Error())
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	_ = json.NewEncoder(ctx).Encode(v)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

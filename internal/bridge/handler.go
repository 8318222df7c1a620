package bridge

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/driver-agent/internal/location"
	"github.com/richxcame/driver-agent/internal/proof"
	"github.com/richxcame/driver-agent/internal/tripapi"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/richxcame/driver-agent/pkg/validation"
)

// Handler serves the local API the shell drives the agent through
type Handler struct {
	agent    Agent
	location LocationSink
	hub      *Hub
}

// NewHandler creates a new bridge handler
func NewHandler(agent Agent, loc LocationSink, hub *Hub) *Handler {
	return &Handler{agent: agent, location: loc, hub: hub}
}

// StateResponse is the full view the shell renders from
type StateResponse struct {
	LoggedIn   bool        `json:"logged_in"`
	Trips      interface{} `json:"trips,omitempty"`
	Navigation interface{} `json:"navigation,omitempty"`
	Presence   interface{} `json:"presence,omitempty"`
	Unread     int         `json:"unread"`
}

// GetState returns the session state
// GET /api/v1/state
func (h *Handler) GetState(c *gin.Context) {
	svc, ok := h.agent.Services()
	if !ok {
		common.SuccessResponse(c, StateResponse{})
		return
	}

	resp := StateResponse{
		LoggedIn:   true,
		Trips:      svc.Trips.Snapshot(),
		Navigation: svc.Navigation.View(),
		Presence:   svc.Presence.State(),
	}
	if unread, err := svc.Notifications.UnreadCount(c.Request.Context()); err == nil {
		resp.Unread = unread
	}
	common.SuccessResponse(c, resp)
}

// SetPresence toggles online and availability. Online is applied first.
// POST /api/v1/presence
func (h *Handler) SetPresence(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	var req validation.PresenceRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.Online == nil && req.Available == nil {
		common.ErrorResponse(c, http.StatusBadRequest, "online or available is required")
		return
	}

	ctx := c.Request.Context()
	if req.Online != nil {
		if err := svc.Presence.SetOnline(ctx, *req.Online); common.HandleServiceError(c, err, "failed to update online status") {
			return
		}
	}
	if req.Available != nil {
		if err := svc.Presence.SetAvailable(ctx, *req.Available); common.HandleServiceError(c, err, "failed to update availability") {
			return
		}
	}
	common.SuccessResponse(c, svc.Presence.State())
}

// AcceptCandidate accepts the shown request
// POST /api/v1/candidates/:id/accept
func (h *Handler) AcceptCandidate(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	trip, err := svc.Trips.Accept(c.Request.Context(), c.Param("id"))
	if common.HandleServiceError(c, err, "failed to accept request") {
		return
	}
	common.SuccessResponse(c, trip)
}

// DeclineCandidate declines the shown request
// POST /api/v1/candidates/:id/decline
func (h *Handler) DeclineCandidate(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	var req validation.DeclineRequest
	if !bindOptional(c, &req) {
		return
	}
	err := svc.Trips.Decline(c.Request.Context(), c.Param("id"), req.Reason)
	if common.HandleServiceError(c, err, "failed to decline request") {
		return
	}
	common.SuccessResponse(c, svc.Trips.Snapshot())
}

// AdvanceStatus moves the active trip to the requested status
// POST /api/v1/trip/status
func (h *Handler) AdvanceStatus(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	var req validation.AdvanceStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}
	status, ok := trips.ParseStatus(req.Status)
	if !ok {
		common.ErrorResponse(c, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	var opts []trips.AdvanceOption
	if req.TripID != "" {
		opts = append(opts, trips.ForTrip(req.TripID))
	}
	if req.Rating != nil {
		opts = append(opts, trips.WithRating(*req.Rating))
	}
	if req.DeliveryPIN != "" {
		opts = append(opts, trips.WithPIN(req.DeliveryPIN))
	}
	if req.Location != nil {
		opts = append(opts, trips.WithLocation(geo.Point{Lat: req.Location.Latitude, Lng: req.Location.Longitude}))
	}

	trip, err := svc.Trips.AdvanceStatus(c.Request.Context(), status, opts...)
	if common.HandleServiceError(c, err, "failed to update trip status") {
		return
	}
	common.SuccessResponse(c, trip)
}

// CancelTrip cancels the active trip. The trip is cleared even when the
// backend call fails; that failure comes back as a warning.
// POST /api/v1/trip/cancel
func (h *Handler) CancelTrip(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	var req validation.CancelRequest
	if !bindOptional(c, &req) {
		return
	}
	result, err := svc.Trips.CancelActiveTrip(c.Request.Context(), req.Reason)
	if common.HandleServiceError(c, err, "failed to cancel trip") {
		return
	}
	if result.Warning != nil {
		common.WarningResponse(c, result.Trip, common.MessageOf(result.Warning))
		return
	}
	common.SuccessResponse(c, result.Trip)
}

// Login signs the driver in and starts a session
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req validation.LoginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	session, err := h.agent.Login(c.Request.Context(), req.Email, req.Password)
	if common.HandleServiceError(c, err, "failed to sign in") {
		return
	}
	common.SuccessResponse(c, sessionView(session))
}

// Logout ends the session
// POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if err := h.agent.Logout(c.Request.Context()); common.HandleServiceError(c, err, "failed to sign out") {
		return
	}
	common.SuccessResponse(c, gin.H{"logged_in": false})
}

// PushLocation accepts a native GPS fix
// POST /api/v1/native/location
func (h *Handler) PushLocation(c *gin.Context) {
	var req validation.LocationSampleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sample := location.Sample{
		Lat:      req.Latitude,
		Lng:      req.Longitude,
		Accuracy: req.Accuracy,
		Speed:    req.Speed,
		Heading:  req.Heading,
	}
	if req.Timestamp > 0 {
		sample.Timestamp = time.UnixMilli(req.Timestamp).UTC()
	}
	if err := h.location.Push(sample); common.HandleServiceError(c, err, "failed to accept location") {
		return
	}
	c.Status(http.StatusNoContent)
}

// ReportLocationError forwards a native geolocation failure
// POST /api/v1/native/location/error
func (h *Handler) ReportLocationError(c *gin.Context) {
	var req validation.LocationErrorRequest
	if !bindAndValidate(c, &req) {
		return
	}
	message := req.Message
	if message == "" {
		message = "location " + req.Code
	}

	var err error
	switch req.Code {
	case "permission_denied":
		err = common.NewPermissionError(message)
	case "timeout":
		err = common.NewTimeoutError(message, nil)
	default:
		err = common.NewAppError(http.StatusServiceUnavailable, message, nil)
	}
	h.location.ReportError(err)
	c.Status(http.StatusNoContent)
}

// RegisterPushToken stores the device push token with the backend
// POST /api/v1/native/push-token
func (h *Handler) RegisterPushToken(c *gin.Context) {
	if _, ok := h.services(c); !ok {
		return
	}
	var req validation.PushTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	err := h.agent.RegisterPushToken(c.Request.Context(), req.Token, req.Platform)
	if common.HandleServiceError(c, err, "failed to register push token") {
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadCapture stores a delivery proof photo taken by the shell. The
// photo is a multipart "photo" file with a "trip_id" field.
// POST /api/v1/native/capture
func (h *Handler) UploadCapture(c *gin.Context) {
	if _, ok := h.services(c); !ok {
		return
	}
	tripID := c.PostForm("trip_id")
	if !common.ValidateNotEmpty(c, tripID, "trip_id") {
		return
	}
	file, err := c.FormFile("photo")
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "photo is required")
		return
	}
	if file.Size > proof.MaxPhotoBytes {
		common.ErrorResponse(c, http.StatusRequestEntityTooLarge, "photo is too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "unreadable photo")
		return
	}
	defer f.Close()
	photo, err := io.ReadAll(io.LimitReader(f, proof.MaxPhotoBytes+1))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "unreadable photo")
		return
	}

	upload, err := h.agent.UploadProof(c.Request.Context(), tripID, photo, file.Header.Get("Content-Type"))
	if common.HandleServiceError(c, err, "failed to upload photo") {
		return
	}
	common.SuccessResponse(c, upload)
}

// GetStats returns the driver's stats
// GET /api/v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	stats, err := svc.Earnings.Stats(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to load stats") {
		return
	}
	common.SuccessResponse(c, stats)
}

// GetEarnings returns earnings for a period
// GET /api/v1/earnings?period=week
func (h *Handler) GetEarnings(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	earnings, err := svc.Earnings.Earnings(c.Request.Context(), c.DefaultQuery("period", tripapi.PeriodToday))
	if common.HandleServiceError(c, err, "failed to load earnings") {
		return
	}
	common.SuccessResponse(c, earnings)
}

// GetTripHistory returns past trips
// GET /api/v1/trips?page=1&per_page=20
func (h *Handler) GetTripHistory(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	var query historyQuery
	if !common.BindQuery(c, &query) {
		return
	}

	history, err := svc.Earnings.History(c.Request.Context(), query.Page, query.PerPage)
	if common.HandleServiceError(c, err, "failed to load trip history") {
		return
	}

	meta := &common.Meta{Page: history.Page, PerPage: history.PerPage, Total: history.Total}
	if history.PerPage > 0 {
		meta.TotalPages = int((history.Total + int64(history.PerPage) - 1) / int64(history.PerPage))
	}
	common.SuccessResponseWithMeta(c, history.Trips, meta)
}

type historyQuery struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}

// ListNotifications returns the notification feed
// GET /api/v1/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	items, err := svc.Notifications.List(ctx)
	if common.HandleServiceError(c, err, "failed to load notifications") {
		return
	}
	unread, _ := svc.Notifications.UnreadCount(ctx)
	common.SuccessResponse(c, gin.H{
		"notifications": items,
		"unread":        unread,
	})
}

// MarkNotificationRead marks one notification read
// POST /api/v1/notifications/:id/read
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	err := svc.Notifications.MarkRead(c.Request.Context(), c.Param("id"))
	if common.HandleServiceError(c, err, "failed to update notification") {
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead marks the whole feed read
// POST /api/v1/notifications/read-all
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	svc, ok := h.services(c)
	if !ok {
		return
	}
	if err := svc.Notifications.MarkAllRead(c.Request.Context()); common.HandleServiceError(c, err, "failed to update notifications") {
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers bridge routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/state", h.GetState)
		api.POST("/presence", h.SetPresence)

		api.POST("/candidates/:id/accept", h.AcceptCandidate)
		api.POST("/candidates/:id/decline", h.DeclineCandidate)

		api.POST("/trip/status", h.AdvanceStatus)
		api.POST("/trip/cancel", h.CancelTrip)

		api.POST("/auth/login", h.Login)
		api.POST("/auth/logout", h.Logout)

		native := api.Group("/native")
		{
			native.POST("/location", h.PushLocation)
			native.POST("/location/error", h.ReportLocationError)
			native.POST("/push-token", h.RegisterPushToken)
			native.POST("/capture", h.UploadCapture)
		}

		api.GET("/stats", h.GetStats)
		api.GET("/earnings", h.GetEarnings)
		api.GET("/trips", h.GetTripHistory)

		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications/read-all", h.MarkAllNotificationsRead)
		api.POST("/notifications/:id/read", h.MarkNotificationRead)

		api.GET("/events", h.hub.ServeEvents)
	}
}

func (h *Handler) services(c *gin.Context) (*Services, bool) {
	svc, ok := h.agent.Services()
	if !ok {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrNotLoggedIn.Error())
		return nil, false
	}
	return svc, true
}

func sessionView(s *tripapi.Session) gin.H {
	return gin.H{
		"logged_in":  true,
		"driver_id":  s.DriverID,
		"name":       s.Name,
		"expires_at": s.ExpiresAt,
	}
}

// bindAndValidate binds the JSON body and runs the validator rules.
func bindAndValidate(c *gin.Context, obj interface{}) bool {
	if !common.BindJSON(c, obj) {
		return false
	}
	if err := validation.ValidateStruct(obj); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// bindOptional is bindAndValidate for endpoints whose body may be empty.
func bindOptional(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindAndValidate(c, obj)
}

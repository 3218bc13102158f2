package video

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tutorcall-backend/internal/domain"
	"tutorcall-backend/internal/service/video"
	"tutorcall-backend/pkg/pagination"
	"tutorcall-backend/pkg/quality"
	"tutorcall-backend/pkg/response"
	"tutorcall-backend/pkg/sanitize"
)

// Handler handles video call HTTP requests
type Handler struct {
	videoService *video.Service
}

// NewHandler creates a new video handler
func NewHandler(videoService *video.Service) *Handler {
	return &Handler{
		videoService: videoService,
	}
}

// StartCallRequest represents call initiation request
type StartCallRequest struct {
	ReceiverID    string  `json:"receiver_id" binding:"required,uuid"`
	CallType      string  `json:"call_type" binding:"required,oneof=audio video"`
	Subject       *string `json:"subject" binding:"omitempty,max=255"`
	ReservationID *string `json:"reservation_id" binding:"omitempty,uuid"`
}

// CallIDRequest is the body of answer
type CallIDRequest struct {
	CallID string `json:"call_id" binding:"required,uuid"`
}

// RejectCallRequest represents call rejection request
type RejectCallRequest struct {
	CallID string `json:"call_id" binding:"required,uuid"`
	Reason string `json:"reason" binding:"max=500"`
}

// EndCallRequest represents call termination request
type EndCallRequest struct {
	CallID   string `json:"call_id" binding:"required,uuid"`
	Reason   string `json:"reason" binding:"max=500"`
	Duration *int   `json:"duration"`
}

// ToggleMuteRequest sets the requester's mute flag
type ToggleMuteRequest struct {
	CallID string `json:"call_id" binding:"required,uuid"`
	Muted  *bool  `json:"muted" binding:"required"`
}

// ToggleVideoRequest sets the requester's camera flag
type ToggleVideoRequest struct {
	CallID       string `json:"call_id" binding:"required,uuid"`
	VideoEnabled *bool  `json:"video_enabled" binding:"required"`
}

// ToggleScreenShareRequest sets the requester's screen-share flag
type ToggleScreenShareRequest struct {
	CallID  string `json:"call_id" binding:"required,uuid"`
	Enabled *bool  `json:"screen_sharing" binding:"required"`
}

// QualityRequest is one connection-quality report from a client
type QualityRequest struct {
	CallID     string   `json:"call_id" binding:"required,uuid"`
	Bitrate    *float64 `json:"bitrate"`
	Latency    *float64 `json:"latency"`
	PacketLoss *float64 `json:"packet_loss"`
	Resolution string   `json:"resolution" binding:"max=32"`
}

// SetAvailabilityRequest toggles the requester's opt-in
type SetAvailabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// RouteLimits holds the per-class rate limiters. A nil entry disables
// limiting for that class.
type RouteLimits struct {
	Lifecycle gin.HandlerFunc // start, answer, reject, end
	Media     gin.HandlerFunc // toggles and quality reports
	Read      gin.HandlerFunc
}

func chain(limit gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	if limit == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{limit, h}
}

// RegisterRoutes mounts the call routes on rg. rg must already carry the
// auth middleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, limits RouteLimits) {
	rg.POST("/start", chain(limits.Lifecycle, h.StartCall)...)
	rg.POST("/answer", chain(limits.Lifecycle, h.AnswerCall)...)
	rg.POST("/reject", chain(limits.Lifecycle, h.RejectCall)...)
	rg.POST("/end", chain(limits.Lifecycle, h.EndCall)...)
	rg.POST("/toggle-mute", chain(limits.Media, h.ToggleMute)...)
	rg.POST("/toggle-video", chain(limits.Media, h.ToggleVideo)...)
	rg.POST("/toggle-screen-share", chain(limits.Media, h.ToggleScreenShare)...)
	rg.POST("/quality", chain(limits.Media, h.ReportQuality)...)
	rg.POST("/set-availability", chain(limits.Media, h.SetAvailability)...)
	rg.GET("/history", chain(limits.Read, h.GetHistory)...)
	rg.GET("/statistics", chain(limits.Read, h.GetStatistics)...)
	rg.GET("/availability/:userId", chain(limits.Read, h.CheckAvailability)...)
	rg.GET("/:callId", chain(limits.Read, h.GetCall)...)
}

// StartCall starts a new call
// POST /v1/video-call/start
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := requesterID(c)
	if !ok {
		return
	}

	receiverID, ok := parseID(c, req.ReceiverID, "receiver_id")
	if !ok {
		return
	}

	input := &video.StartCallInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		Kind:       domain.CallKind(req.CallType),
		Subject:    sanitize.OptionalText(req.Subject),
	}
	if req.ReservationID != nil {
		id, ok := parseID(c, *req.ReservationID, "reservation_id")
		if !ok {
			return
		}
		input.ReservationID = &id
	}

	call, err := h.videoService.Start(c.Request.Context(), input)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, call)
}

// AnswerCall accepts an incoming call
// POST /v1/video-call/answer
func (h *Handler) AnswerCall(c *gin.Context) {
	var req CallIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, ok := parseID(c, req.CallID, "call_id")
	if !ok {
		return
	}

	call, err := h.videoService.Answer(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// RejectCall declines an incoming call
// POST /v1/video-call/reject
func (h *Handler) RejectCall(c *gin.Context) {
	var req RejectCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, ok := parseID(c, req.CallID, "call_id")
	if !ok {
		return
	}

	call, err := h.videoService.Reject(c.Request.Context(), callID, userID, sanitize.Text(req.Reason))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// EndCall terminates a call
// POST /v1/video-call/end
func (h *Handler) EndCall(c *gin.Context) {
	var req EndCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, ok := parseID(c, req.CallID, "call_id")
	if !ok {
		return
	}

	call, err := h.videoService.End(c.Request.Context(), &video.EndCallInput{
		CallID:    callID,
		Requester: userID,
		Reason:    sanitize.Text(req.Reason),
		Duration:  req.Duration,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// ToggleMute sets the requester's mute flag
// POST /v1/video-call/toggle-mute
func (h *Handler) ToggleMute(c *gin.Context) {
	var req ToggleMuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, ok := parseID(c, req.CallID, "call_id")
	if !ok {
		return
	}

	participant, err := h.videoService.ToggleMute(c.Request.Context(), callID, userID, *req.Muted)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// ToggleVideo sets the requester's camera flag
// POST /v1/video-call/toggle-video
func (h *Handler) ToggleVideo(c *gin.Context) {
	var req ToggleVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, ok := parseID(c, req.CallID, "call_id")
	if !ok {
		return
	}

	participant, err := h.videoService.ToggleVideo(c.Request.Context(), callID, userID, *req.VideoEnabled)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// ToggleScreenShare sets the requester's screen-share flag
// POST /v1/video-call/toggle-screen-share
func (h *Handler) ToggleScreenShare(c *gin.Context) {
	var req ToggleScreenShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, ok := parseID(c, req.CallID, "call_id")
	if !ok {
		return
	}

	participant, err := h.videoService.ToggleScreenShare(c.Request.Context(), callID, userID, *req.Enabled)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, participant)
}

// ReportQuality stores a connection-quality sample
// POST /v1/video-call/quality
func (h *Handler) ReportQuality(c *gin.Context) {
	var req QualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, ok := parseID(c, req.CallID, "call_id")
	if !ok {
		return
	}

	summary, err := h.videoService.ReportQuality(c.Request.Context(), callID, userID, &quality.Sample{
		Bitrate:    req.Bitrate,
		Latency:    req.Latency,
		PacketLoss: req.PacketLoss,
		Resolution: req.Resolution,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// GetHistory lists the requester's calls
// GET /v1/video-call/history?page=1&limit=20&call_type=video&status=ended
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := requesterID(c)
	if !ok {
		return
	}

	page, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	filter := domain.CallFilter{
		Kind:   domain.CallKind(c.Query("call_type")),
		Status: domain.CallStatus(c.Query("status")),
	}

	history, err := h.videoService.GetHistory(c.Request.Context(), userID, filter, page)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, history)
}

// GetStatistics returns the requester's call statistics
// GET /v1/video-call/statistics
func (h *Handler) GetStatistics(c *gin.Context) {
	userID, ok := requesterID(c)
	if !ok {
		return
	}

	stats, err := h.videoService.GetStatistics(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// SetAvailability updates the requester's opt-in for incoming calls
// POST /v1/video-call/set-availability
func (h *Handler) SetAvailability(c *gin.Context) {
	var req SetAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := requesterID(c)
	if !ok {
		return
	}

	if err := h.videoService.SetAvailability(c.Request.Context(), userID, *req.Available); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id":   userID,
		"available": *req.Available,
	})
}

// CheckAvailability reports whether a user can receive a call now
// GET /v1/video-call/availability/:userId
func (h *Handler) CheckAvailability(c *gin.Context) {
	if _, ok := requesterID(c); !ok {
		return
	}

	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	availability, err := h.videoService.CheckAvailability(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, availability)
}

// GetCall returns a call snapshot
// GET /v1/video-call/:callId
func (h *Handler) GetCall(c *gin.Context) {
	userID, ok := requesterID(c)
	if !ok {
		return
	}

	callID, err := uuid.Parse(c.Param("callId"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	call, err := h.videoService.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// parseID parses a body id field, answering 400 when it is malformed
func parseID(c *gin.Context, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		response.ValidationError(c, "Invalid "+field)
		return uuid.Nil, false
	}
	return id, true
}

// requesterID reads the authenticated user set by the auth middleware and
// writes the error response itself when it is missing.
func requesterID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

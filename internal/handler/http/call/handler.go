package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxlink-backend/internal/signaling"
	apperrors "voxlink-backend/pkg/errors"
	"voxlink-backend/pkg/response"
)

// Handler serves read-only views of live call state. All call state is
// volatile; once a call reaches a terminal status the snapshot is gone.
type Handler struct {
	coordinator *signaling.Coordinator
}

// NewHandler creates a new call handler
func NewHandler(coordinator *signaling.Coordinator) *Handler {
	return &Handler{
		coordinator: coordinator,
	}
}

// GetCall returns the in-memory session for a live call
func (h *Handler) GetCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	sess := h.coordinator.Session(callID)
	if sess == nil {
		response.FromError(c, apperrors.CallNotFoundError())
		return
	}

	response.Success(c, http.StatusOK, sess)
}

// GetICEServers returns the STUN/TURN list so clients can prewarm ICE
// gathering before a call event arrives
func (h *Handler) GetICEServers(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"ice_servers": h.coordinator.ICEServers(),
	})
}

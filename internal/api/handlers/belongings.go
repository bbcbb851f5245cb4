package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/intelliguard/internal/custody"
	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/vision"
	"github.com/your-org/intelliguard/pkg/dto"
)

const photoJPEGQuality = 90

type BelongingHandler struct {
	ledger *custody.Ledger
}

func NewBelongingHandler(ledger *custody.Ledger) *BelongingHandler {
	return &BelongingHandler{ledger: ledger}
}

// CheckIn opens a custody record. An attached image is re-encoded as JPEG
// and stored as the belonging photo.
func (h *BelongingHandler) CheckIn(c *gin.Context) {
	var req dto.CheckInRequest
	if !bindJSON(c, &req) {
		return
	}

	var (
		rec models.CustodyRecord
		err error
	)
	if req.Image == "" {
		rec, err = h.ledger.CheckIn(c.Request.Context(), req.Identity, req.ItemType, req.Description, "")
	} else {
		img, derr := decodeImageField(req.Image)
		if derr != nil {
			respondError(c, derr)
			return
		}
		photo, eerr := vision.EncodeJPEG(img, photoJPEGQuality)
		if eerr != nil {
			respondError(c, eerr)
			return
		}
		rec, err = h.ledger.CheckInWithPhoto(c.Request.Context(), req.Identity, req.ItemType, req.Description, photo)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromRecord(rec))
}

func (h *BelongingHandler) CheckOut(c *gin.Context) {
	var req dto.CheckOutRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, err := h.ledger.CheckOut(c.Request.Context(), req.Identity, req.ItemType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromRecord(rec))
}

// List answers GET /v1/belongings?identity=&status=.
func (h *BelongingHandler) List(c *gin.Context) {
	var q dto.BelongingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		identity *string
		status   *models.CustodyStatus
	)
	if s := strings.TrimSpace(q.Identity); s != "" {
		identity = &s
	}
	if q.Status != "" {
		st, err := custody.ParseStatus(q.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		status = &st
	}

	recs, err := h.ledger.Query(c.Request.Context(), identity, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BelongingListResponse{Belongings: dto.FromRecords(recs), Total: len(recs)})
}

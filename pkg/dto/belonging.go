package dto

// CheckInRequest opens a custody record. Image, when present, is stored as
// the belonging photo and its key becomes the record's image_ref.
type CheckInRequest struct {
	Identity    string  `json:"identity" binding:"required"`
	ItemType    string  `json:"item_type" binding:"required"`
	Description *string `json:"description,omitempty"`
	Image       string  `json:"image,omitempty"`
}

type CheckOutRequest struct {
	Identity string `json:"identity" binding:"required"`
	ItemType string `json:"item_type" binding:"required"`
}

type BelongingQuery struct {
	Identity string `form:"identity"`
	Status   string `form:"status"`
}

type BelongingResponse struct {
	ID          int64   `json:"id"`
	Identity    string  `json:"identity"`
	ItemType    string  `json:"item_type"`
	Description *string `json:"description,omitempty"`
	ImageRef    string  `json:"image_ref"`
	EnteredAt   string  `json:"entered_at"`
	ExitedAt    *string `json:"exited_at"`
	Status      string  `json:"status"`
}

type BelongingListResponse struct {
	Belongings []BelongingResponse `json:"belongings"`
	Total      int                 `json:"total"`
}

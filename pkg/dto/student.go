package dto

type EnrollRequest struct {
	Identity string   `json:"identity" binding:"required"`
	Images   []string `json:"images" binding:"required,min=1"`
}

type EnrollResponse struct {
	Identity   string        `json:"identity"`
	Accepted   int           `json:"accepted"`
	Skipped    int           `json:"skipped"`
	FirstIndex int           `json:"first_index"`
	Samples    []string      `json:"samples"`
	Training   TrainResponse `json:"training"`
}

type StudentResponse struct {
	Identity string `json:"identity"`
	Samples  int    `json:"samples"`
}

type StudentListResponse struct {
	Students []StudentResponse `json:"students"`
	Total    int               `json:"total"`
}

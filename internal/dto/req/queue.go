package req

type ListAuditsRequest struct {
	Offset int `form:"offset"`
	Limit  int `form:"limit"`
}

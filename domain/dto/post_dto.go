package dto

// Res is the envelope for error responses.
type Res struct {
	ResponseCode    string `json:"response_code"`
	ResponseMessage string `json:"response_message"`
}

// CreatePostRequest is the body of POST /api/posts.
type CreatePostRequest struct {
	VideoURL     string   `json:"video_url"`
	Caption      string   `json:"caption"`
	Destinations []string `json:"destinations"`
}

// ListPostsQuery binds the query string of GET /api/posts.
type ListPostsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
}

type ConnectResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

type ConnectedAccount struct {
	Destination string  `json:"destination"`
	AccountName *string `json:"account_name,omitempty"`
}

type AccountStatus struct {
	Destination string  `json:"destination"`
	Connected   bool    `json:"connected"`
	AccountName *string `json:"account_name,omitempty"`
}

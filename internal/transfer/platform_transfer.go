package transfer

type AccountInfo struct {
	ID              int64  `json:"id"`
	Platform        string `json:"platform"`
	AccountName     string `json:"account_name"`
	AccountUsername string `json:"account_username"`
	AccountStatus   string `json:"account_status"`
}

// BlueskyConnect carries the handle and app password of a connect request.
type BlueskyConnect struct {
	Identifier  string `json:"identifier"`
	AppPassword string `json:"app_password"`
}

package model

const (
	RoleOperator  = "operator"  // may retry and cancel jobs
	RoleSubmitter = "submitter" // may create submissions and read status
)

// Account is a configured API login. Accounts live in configuration, not in
// the database.
type Account struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

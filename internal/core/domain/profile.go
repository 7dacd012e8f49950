package domain

// UserProfile describes the end user behind a conversation.
type UserProfile struct {
	ID            string `json:"id,omitempty"`
	Email         string `json:"email,omitempty"`
	Name          string `json:"name,omitempty"`
	Country       string `json:"country,omitempty"`
	JobGrade      string `json:"job_grade,omitempty"`
	Company       string `json:"company,omitempty"`
	ManagerID     string `json:"manager_id,omitempty"`
	Location      string `json:"location,omitempty"`
	Language      string `json:"language,omitempty"`
	Authenticated *bool  `json:"authenticated,omitempty"`

	// Extended attributes carried through for reporting only.
	JobTitle      string `json:"job_title,omitempty"`
	Department    string `json:"department,omitempty"`
	EmployeeGroup string `json:"employee_group,omitempty"`
	ManagerName   string `json:"manager_name,omitempty"`
	Division      string `json:"division,omitempty"`
	JobFamily     string `json:"job_family,omitempty"`
	CostCenter    string `json:"cost_center,omitempty"`
	BusinessUnit  string `json:"business_unit,omitempty"`
	ContractType  string `json:"contract_type,omitempty"`
	AuthMethod    string `json:"auth_method,omitempty"`
}

// IsZero reports whether the profile carries no identifying data.
func (p *UserProfile) IsZero() bool {
	return p == nil || (p.ID == "" && p.Email == "" && p.Name == "")
}

// TokenUsage is the token accounting reported on a completed task.
type TokenUsage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.TotalTokens += other.TotalTokens
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedTokens += other.CachedTokens
}

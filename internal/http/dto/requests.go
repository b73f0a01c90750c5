package dto

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateDecisionRequest struct {
	CaseRef string `json:"case_ref"`
	Kind    string `json:"kind"` // ruling / order / sentence
	Title   string `json:"title"`
	Content string `json:"content"`
}

type UpdateDecisionRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"` // judge / clerk / auditor / admin
}

type CreateCaseRequest struct {
	CaseRef         string `json:"case_ref"`
	AssignedJudgeID string `json:"assigned_judge_id"`
	JudgePseudonym  string `json:"judge_pseudonym"`
}

type ReassignCaseRequest struct {
	AssignedJudgeID string `json:"assigned_judge_id"`
	JudgePseudonym  string `json:"judge_pseudonym"`
}

package model

// SubmitMessage is the Kafka intake payload for asynchronous submissions.
type SubmitMessage struct {
	SubmissionID string `json:"submission_id,omitempty"`
	ProblemID    string `json:"problem_id"`
	UserID       string `json:"user_id"`
	Language     string `json:"language"`
	Code         string `json:"code"`
}

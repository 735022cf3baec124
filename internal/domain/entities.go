// Package domain defines core entities, ports, and domain-specific errors
// for the recruiting dialogue orchestration engine.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrBudgetExhausted   = errors.New("budget exhausted")
	ErrResourceGone      = errors.New("resource gone")
	ErrAuthRevoked       = errors.New("auth revoked")
	ErrInternal          = errors.New("internal error")
)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// DialogueStatus captures the coarse lifecycle state of a Dialogue.
type DialogueStatus string

// Dialogue status values.
const (
	StatusNew              DialogueStatus = "new"
	StatusInProgress       DialogueStatus = "in_progress"
	StatusQualified        DialogueStatus = "qualified"
	StatusRejected         DialogueStatus = "rejected"
	StatusTimedOut         DialogueStatus = "timed_out"
	StatusRecruiterHandled DialogueStatus = "recruiter_handled"
	StatusVacancyClosed    DialogueStatus = "vacancy_closed"
)

// DialogueState names a node in the qualification state machine.
type DialogueState string

// State machine nodes.
const (
	StateInitialProcessing     DialogueState = "initial_processing"
	StateAwaitingQuestions     DialogueState = "awaiting_questions"
	StateAwaitingPhone         DialogueState = "awaiting_phone"
	StateAwaitingCity          DialogueState = "awaiting_city"
	StateAwaitingReadiness     DialogueState = "awaiting_readiness"
	StateAwaitingCitizenship   DialogueState = "awaiting_citizenship"
	StateClarifyingCitizenship DialogueState = "clarifying_citizenship"
	StateAwaitingAge           DialogueState = "awaiting_age"
	StateClarifyingAnything    DialogueState = "clarifying_anything"
	StateClarifyingDeclined    DialogueState = "clarifying_declined_vacancy"
	StateQualificationComplete DialogueState = "qualification_complete"
	StateInitSchedulingSPb     DialogueState = "init_scheduling_spb"
	StateSchedulingSPbDay      DialogueState = "scheduling_spb_day"
	StateSchedulingSPbTime     DialogueState = "scheduling_spb_time"
	StateInterviewScheduledSPb DialogueState = "interview_scheduled_spb"
	StateForwardedToResearcher DialogueState = "forwarded_to_researcher"
	StatePostQualificationChat DialogueState = "post_qualification_chat"
	StateQualificationFailed   DialogueState = "qualification_failed"
	StateDeclinedVacancy       DialogueState = "declined_vacancy"
	StateDeclinedInterview     DialogueState = "declined_interview"
	StateCallLater             DialogueState = "call_later"
)

// MessageRole distinguishes who produced a history/pending entry.
type MessageRole string

// Roles.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// SystemCommandPrefix marks synthetic pending_messages/history entries that
// instruct the next processor turn to take a specific action, rather than
// carry real candidate text. Never strip this prefix for side-channel data;
// it must remain a first-class entry.
const SystemCommandPrefix = "[SYSTEM COMMAND]"

// HistoryMaxEntries is the cap on Dialogue.History; oldest entries are
// trimmed from the front once exceeded.
const HistoryMaxEntries = 150

// ExtractedData is the subset of candidate fields the LLM may return in its
// turn response, applied to Candidate while the dialogue is not yet qualified.
type ExtractedData struct {
	Phone            string `json:"phone,omitempty"`
	Citizenship      string `json:"citizenship,omitempty"`
	Age              *int   `json:"age,omitempty"`
	City             string `json:"city,omitempty"`
	ReadinessToStart string `json:"readiness_to_start,omitempty"`
	InterviewDate    string `json:"interview_date,omitempty"`
	InterviewTime    string `json:"interview_time,omitempty"`
}

// HistoryEntry is one line of Dialogue.History.
type HistoryEntry struct {
	MessageID      string         `json:"message_id"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	TimestampLocal time.Time      `json:"timestamp_local"`
	ExtractedData  *ExtractedData `json:"extracted_data,omitempty"`
	State          DialogueState  `json:"state,omitempty"`
}

// PendingMessage is one entry awaiting a processor turn.
type PendingMessage struct {
	MessageID      string      `json:"message_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	TimestampLocal time.Time   `json:"timestamp_local"`
}

// IsSystemCommand reports whether this pending entry is a synthetic
// processor-to-processor instruction rather than real candidate text.
func (p PendingMessage) IsSystemCommand() bool {
	return len(p.Content) >= len(SystemCommandPrefix) && p.Content[:len(SystemCommandPrefix)] == SystemCommandPrefix
}

// Recruiter owns Vacancies and Dialogues.
type Recruiter struct {
	ID                    string
	ExternalID            string
	Name                  string
	RefreshToken          string
	AccessToken           string
	TokenExpiresAt        time.Time
	VacanciesLastSyncedAt time.Time
	ChatID                int64
	TopicQualified        int
	TopicRejected         int
	TopicTimeout          int
	CreatedAt             time.Time
}

// Vacancy is observed from the job board.
type Vacancy struct {
	ID          string
	ExternalID  string
	Title       string
	City        string
	RecruiterID *string // nil means the vacancy was observed as inactive
}

// Candidate is the applicant behind a Dialogue.
type Candidate struct {
	ID               string
	ExternalResumeID string
	FullName         string
	Age              *int
	Citizenship      string
	City             string
	PhoneNumber      string
	ReadinessToStart string
	CreatedAt        time.Time
}

// RequiredFieldsComplete reports whether all qualification-required fields
// are populated.
func (c Candidate) RequiredFieldsComplete() bool {
	return c.PhoneNumber != "" && c.Citizenship != "" && c.Age != nil && c.City != "" && c.ReadinessToStart != ""
}

// Dialogue is the per-candidate qualification conversation.
type Dialogue struct {
	ID                    string
	ExternalResponseID    string
	CandidateID           string
	VacancyID             string
	RecruiterID           string
	Status                DialogueStatus
	DialogueState         DialogueState
	ReminderLevel         int
	History               []HistoryEntry
	PendingMessages       []PendingMessage
	LastUpdated           time.Time
	CreatedAt             time.Time
	ResponseCreatedAt     time.Time
	InterviewDatetimeUTC  *time.Time
	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TotalCachedTokens     int64
	TotalCost             float64
}

// AppendHistory appends entries and trims the front to HistoryMaxEntries,
// preserving the append-only-except-cap invariant.
func (d *Dialogue) AppendHistory(entries ...HistoryEntry) {
	d.History = append(d.History, entries...)
	if len(d.History) > HistoryMaxEntries {
		d.History = d.History[len(d.History)-HistoryMaxEntries:]
	}
}

// SeenMessageIDs returns the set of message ids already present in history
// or pending_messages, used by the poller to compute unseen applicant
// messages during update ingestion.
func (d Dialogue) SeenMessageIDs() map[string]struct{} {
	seen := make(map[string]struct{}, len(d.History)+len(d.PendingMessages))
	for _, h := range d.History {
		seen[h.MessageID] = struct{}{}
	}
	for _, p := range d.PendingMessages {
		seen[p.MessageID] = struct{}{}
	}
	return seen
}

// LlmUsageLog records one LLM call's token usage and cost.
type LlmUsageLog struct {
	ID               string
	DialogueID       string
	StateAtCall      DialogueState
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
	TotalTokens      int
	Cost             float64
	CreatedAt        time.Time
}

// QueueStatus is shared by the three outbound notification queues and the
// InterviewReminder table.
type QueueStatus string

// Queue status values.
const (
	QueuePending       QueueStatus = "pending"
	QueueSent          QueueStatus = "sent"
	QueueError         QueueStatus = "error"
	QueueCancelled     QueueStatus = "cancelled"
	QueueSkippedNoChat QueueStatus = "skipped_no_chat"
)

// QualifiedNotification is a row in the qualified outbound queue, keyed by
// candidate_id to avoid duplicate dossiers.
type QualifiedNotification struct {
	ID          string
	CandidateID string
	Status      QueueStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// RejectedNotification is a row in the rejected outbound queue, unique per
// dialogue.
type RejectedNotification struct {
	ID          string
	DialogueID  string
	Status      QueueStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// InactiveNotification is a row in the inactive (silent-candidate) outbound
// queue, unique per dialogue.
type InactiveNotification struct {
	ID          string
	DialogueID  string
	Status      QueueStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// InterviewReminderType enumerates the three scheduled-send offsets.
type InterviewReminderType string

// Interview reminder types.
const (
	ReminderTMinus2h         InterviewReminderType = "t_minus_2h"
	ReminderDayBefore20Local InterviewReminderType = "day_before_20_local"
	ReminderDayOf9Local      InterviewReminderType = "day_of_9_local"
)

// InterviewReminder is a scheduled interview nudge.
type InterviewReminder struct {
	ID                   string
	DialogueID           string
	RecruiterID          string
	InterviewDatetimeUTC time.Time
	ScheduledSendTimeUTC time.Time
	NotificationType     InterviewReminderType
	Status               QueueStatus
	ProcessedAt          *time.Time
}

// AppSettings is the single-row ledger configuration.
type AppSettings struct {
	Balance               float64
	CostPerDialogue       float64
	CostPerLongReminder   float64
	LowBalanceThreshold   float64
	LowLimitNotified      bool
	TotalSpentOnDialogues float64
	TotalSpentOnReminders float64
}

// Repositories (ports) — explicit, bounded join queries, no ORM relations
// or lazy loading.

// RecruiterRepository manages Recruiter rows.
type RecruiterRepository interface {
	Get(ctx Context, id string) (Recruiter, error)
	ListTracked(ctx Context, onlyIDs []string) ([]Recruiter, error)
	UpdateVacanciesSyncedAt(ctx Context, id string, t time.Time) error
	UpdateTokens(ctx Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	// LockForTokenRefresh reads the recruiter row with SELECT...FOR UPDATE
	// inside its own transaction, committed right after the read, so the
	// lock does not span the caller's refresh.
	LockForTokenRefresh(ctx Context, id string) (Recruiter, error)
}

// VacancyRepository manages Vacancy rows.
type VacancyRepository interface {
	Get(ctx Context, id string) (Vacancy, error)
	GetByExternalID(ctx Context, externalID string) (Vacancy, error)
	Upsert(ctx Context, v Vacancy) (string, error)
	ListActiveForRecruiter(ctx Context, recruiterID string) ([]Vacancy, error)
	Detach(ctx Context, id string) error
}

// CandidateRepository manages Candidate rows.
type CandidateRepository interface {
	Get(ctx Context, id string) (Candidate, error)
	GetByExternalResumeID(ctx Context, externalResumeID string) (Candidate, error)
	Create(ctx Context, c Candidate) (string, error)
	Update(ctx Context, c Candidate) error
}

// DialogueRepository manages Dialogue rows, including the SKIP LOCKED claim
// query that backs the processor's and reminders' work distribution.
type DialogueRepository interface {
	GetByExternalResponseID(ctx Context, externalResponseID string) (Dialogue, error)
	Create(ctx Context, d Dialogue) (string, error)
	// CreateWithDebit locks the ledger row and, if balance covers the cost,
	// calls moveResponse before writing anything; the debit and the insert
	// then commit together. moveResponse failing rolls back the whole
	// transaction, leaving neither a debit nor a dialogue. ok=false (no
	// error) means the balance didn't cover the cost: moveResponse is never
	// called and nothing was written.
	CreateWithDebit(ctx Context, d Dialogue, moveResponse func() error) (dialogueID string, ok, crossedLowThreshold, recoveredAboveThreshold bool, err error)
	Update(ctx Context, d Dialogue) error
	Get(ctx Context, id string) (Dialogue, error)
	// ListByCandidate returns every dialogue for a candidate, most recently
	// updated first, used by the notifier to pick the dialogue backing a
	// queued qualified-candidate notification.
	ListByCandidate(ctx Context, candidateID string) ([]Dialogue, error)
	// ClaimPending locks up to limit dialogues with non-empty pending_messages
	// and last_updated older than debounce, using SELECT...FOR UPDATE SKIP LOCKED.
	ClaimPending(ctx Context, recruiterIDs []string, debounce time.Duration, limit int) ([]Dialogue, error)
	// ClaimForDojim locks dialogues eligible for the short (in_progress,
	// levels 0-2) or long (timed_out, levels 3-5) reminder ladder.
	ClaimForDojim(ctx Context, recruiterIDs []string, limit int) ([]Dialogue, error)
	CleanupHistoryOlderThan(ctx Context, cutoff time.Time) (int64, error)
}

// LlmUsageLogRepository persists per-call usage/cost rows.
type LlmUsageLogRepository interface {
	Append(ctx Context, logs ...LlmUsageLog) error
}

// QualifiedQueueRepository manages the qualified outbound queue.
type QualifiedQueueRepository interface {
	EnsurePending(ctx Context, candidateID string) error
	ClaimPending(ctx Context, limit int) ([]QualifiedNotification, error)
	MarkProcessed(ctx Context, id string, status QueueStatus) error
}

// RejectedQueueRepository manages the rejected outbound queue.
type RejectedQueueRepository interface {
	EnsurePending(ctx Context, dialogueID string) error
	Get(ctx Context, dialogueID string) (RejectedNotification, bool, error)
	ClaimPending(ctx Context, limit int) ([]RejectedNotification, error)
	MarkProcessed(ctx Context, id string, status QueueStatus) error
}

// InactiveQueueRepository manages the inactive (silent candidate) outbound queue.
type InactiveQueueRepository interface {
	EnsurePending(ctx Context, dialogueID string) error
	Get(ctx Context, dialogueID string) (InactiveNotification, bool, error)
	Cancel(ctx Context, dialogueID string) error
	ClaimPending(ctx Context, limit int) ([]InactiveNotification, error)
	MarkProcessed(ctx Context, id string, status QueueStatus) error
}

// InterviewReminderRepository manages scheduled interview reminders.
type InterviewReminderRepository interface {
	CancelPendingForDialogue(ctx Context, dialogueID string) error
	InsertBatch(ctx Context, reminders ...InterviewReminder) error
	ClaimDue(ctx Context, limit int) ([]InterviewReminder, error)
	MarkProcessed(ctx Context, id string, status QueueStatus) error
}

// AppSettingsRepository manages the single-row ledger.
type AppSettingsRepository interface {
	// DebitForDialogue locks the settings row and, if balance >= cost,
	// decrements balance and increments total_spent_on_dialogues; returns
	// ok=false without mutation if the balance is insufficient.
	DebitForDialogue(ctx Context) (ok bool, crossedLowThreshold bool, recoveredAboveThreshold bool, err error)
	// DebitForLongReminder locks the settings row and, if balance >= cost,
	// decrements balance and increments total_spent_on_reminders.
	DebitForLongReminder(ctx Context) (ok bool, err error)
	Get(ctx Context) (AppSettings, error)
}

// AdminAlertRepository records broadcast alerts as rows (the poller
// appends low-balance crossings and recoveries). Nothing in this module
// reads the rows back or delivers them.
type AdminAlertRepository interface {
	Append(ctx Context, kind, message string) error
}

// HHClient (port) abstracts the job-board HTTP API.
type HHClient interface {
	GetEmployerID(ctx Context, recruiter Recruiter) (string, error)
	ListActiveVacancies(ctx Context, recruiter Recruiter, employerID string) ([]Vacancy, error)
	ListNewResponses(ctx Context, recruiter Recruiter, vacancyExternalID string, since time.Time) ([]JobBoardResponse, error)
	ListUpdatedResponses(ctx Context, recruiter Recruiter, vacancyExternalID, folder string) ([]JobBoardResponse, error)
	GetResponse(ctx Context, recruiter Recruiter, externalResponseID string) (JobBoardResponse, error)
	MoveResponse(ctx Context, recruiter Recruiter, externalResponseID, toFolder string) error
	ListMessages(ctx Context, recruiter Recruiter, messagesURL string) ([]JobBoardMessage, error)
	SendMessage(ctx Context, recruiter Recruiter, externalResponseID, text string) error
}

// JobBoardResponse is the subset of a job-board negotiation/response the
// poller and reminders pipelines need.
type JobBoardResponse struct {
	ExternalResponseID string
	ExternalResumeID   string
	ApplicantFirstName string
	ApplicantLastName  string
	VacancyExternalID  string
	CreatedAt          time.Time
	CurrentFolder      string
	MessagesURL        string
}

// JobBoardMessage is one entry in a response's message thread.
type JobBoardMessage struct {
	MessageID      string
	FromApplicant  bool
	Text           string
	TimestampLocal time.Time
}

// LLMClient (port) abstracts the LLM chat-completion backend.
type LLMClient interface {
	// ChatJSON issues a single JSON-only chat completion call. attempts is
	// appended to by the retry wrapper before each attempt so the caller can
	// distinguish success-after-retries from total failure.
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int, attempts *[]time.Time) (LLMResult, error)
}

// LLMResult is the parsed, usage-annotated LLM response.
type LLMResult struct {
	Raw              string
	PromptTokens     int
	CompletionTokens int
	CachedTokens     int
	TotalTokens      int
	Cost             float64
}

// Messenger (port) abstracts the reviewer-channel bot transport.
type Messenger interface {
	SendMessage(ctx Context, chatID int64, threadID int, text string) error
	SendDocument(ctx Context, chatID int64, threadID int, filename string, content []byte, caption string) error
}

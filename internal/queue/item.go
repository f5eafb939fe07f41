package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusError      Status = "Error"
	StatusCancelled  Status = "Cancelled"
)

// statusAliases maps lower-cased spellings found in older queue files.
var statusAliases = map[string]Status{
	"pending":     StatusPending,
	"queued":      StatusPending,
	"waiting":     StatusPending,
	"processing":  StatusProcessing,
	"running":     StatusProcessing,
	"in progress": StatusProcessing,
	"in_progress": StatusProcessing,
	"updating":    StatusProcessing,
	"completed":   StatusCompleted,
	"complete":    StatusCompleted,
	"done":        StatusCompleted,
	"success":     StatusCompleted,
	"succeeded":   StatusCompleted,
	"finished":    StatusCompleted,
	"error":       StatusError,
	"failed":      StatusError,
	"failure":     StatusError,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"aborted":     StatusCancelled,

	// localized tags written by translated front ends
	"ausstehend":     StatusPending,
	"wartend":        StatusPending,
	"in bearbeitung": StatusProcessing,
	"läuft":          StatusProcessing,
	"abgeschlossen":  StatusCompleted,
	"fertig":         StatusCompleted,
	"fehler":         StatusError,
	"fehlgeschlagen": StatusError,
	"abgebrochen":    StatusCancelled,
	"en attente":     StatusPending,
	"en cours":       StatusProcessing,
	"terminé":        StatusCompleted,
	"erreur":         StatusError,
	"échec":          StatusError,
	"annulé":         StatusCancelled,
	"pendiente":      StatusPending,
	"en proceso":     StatusProcessing,
	"completado":     StatusCompleted,
	"fallido":        StatusError,
	"cancelado":      StatusCancelled,
	"대기":             StatusPending,
	"대기 중":           StatusPending,
	"처리 중":           StatusProcessing,
	"진행 중":           StatusProcessing,
	"완료":             StatusCompleted,
	"오류":             StatusError,
	"실패":             StatusError,
	"취소":             StatusCancelled,
	"취소됨":            StatusCancelled,
	"等待中":            StatusPending,
	"排队中":            StatusPending,
	"处理中":            StatusProcessing,
	"进行中":            StatusProcessing,
	"已完成":            StatusCompleted,
	"错误":             StatusError,
	"失败":             StatusError,
	"已取消":            StatusCancelled,
	"待機中":            StatusPending,
	"処理中":            StatusProcessing,
	"完了":             StatusCompleted,
	"エラー":            StatusError,
	"失敗":             StatusError,
	"キャンセル":          StatusCancelled,
}

// ParseStatus is case-insensitive and accepts legacy aliases.
func ParseStatus(s string) (Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown queue status %q", s)
}

// UnmarshalJSON keeps a tag it does not recognise verbatim; loading the
// queue document turns such items into errors.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if st, err := ParseStatus(raw); err == nil {
		*s = st
		return nil
	}
	*s = Status(raw)
	return nil
}

// Terminal reports whether the status belongs in history.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Known reports whether s is one of the five statuses. The empty status
// counts as known; it loads as Pending.
func (s Status) Known() bool {
	switch s {
	case "", StatusPending, StatusProcessing, StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Item is one requested update job.
type Item struct {
	ID          string     `json:"id"`
	ProfileID   int        `json:"profile_id"`
	ProfileName string     `json:"profile_name"`
	AppID       string     `json:"app_id"`
	AppName     string     `json:"app_name"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Order       int64      `json:"order"`
	Error       string     `json:"error,omitempty"`
	IsMainApp   bool       `json:"is_main_app"`
	ParentAppID string     `json:"parent_app_id,omitempty"`
}

// finishedAt orders history entries.
func (it Item) finishedAt() time.Time {
	if it.CompletedAt != nil {
		return *it.CompletedAt
	}
	return it.CreatedAt
}

// newID returns a time-ordered id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

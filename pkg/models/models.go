package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// QueueStatus is the server-side status of a queue entry. The set below is
// closed, but servers may add values; unknown strings are carried verbatim
// and rendered as-is instead of failing.
type QueueStatus string

const (
	StatusWaiting    QueueStatus = "WAITING"
	StatusInBuffer   QueueStatus = "IN_BUFFER"
	StatusServed     QueueStatus = "SERVED"
	StatusCancelled  QueueStatus = "CANCELLED"
	StatusNotInQueue QueueStatus = "NOT_IN_QUEUE"
)

// AllStatuses lists the moderator-facing statuses accepted as filter and
// mutation targets.
var AllStatuses = []QueueStatus{StatusWaiting, StatusInBuffer, StatusServed, StatusCancelled}

// Known reports whether the status is one of the values this client was
// built against.
func (s QueueStatus) Known() bool {
	switch s {
	case StatusWaiting, StatusInBuffer, StatusServed, StatusCancelled, StatusNotInQueue:
		return true
	}
	return false
}

// Terminal reports whether the entry will not move any further.
func (s QueueStatus) Terminal() bool {
	return s == StatusServed || s == StatusCancelled
}

// SignState is the state of a mobile sign session.
type SignState string

const (
	SignPending SignState = "PENDING"
	SignSigned  SignState = "SIGNED"
	SignFailed  SignState = "FAILED"
)

// Known reports whether the state is one this client understands.
func (s SignState) Known() bool {
	return s == SignPending || s == SignSigned || s == SignFailed
}

// CitizenToken claims for the JWT issued after a successful sign-in.
type CitizenToken struct {
	SessionID string `json:"session_id"`
	FullName  string `json:"full_name,omitempty"`
	IIN       string `json:"iin,omitempty"`
	jwt.RegisteredClaims
}

// PositionResponse is the citizen-facing view of their queue entry.
// Number is null when the citizen is not waiting (buffered, served, etc).
type PositionResponse struct {
	Number     *int64      `json:"number"`
	Status     QueueStatus `json:"status"`
	MeetingURL *string     `json:"meetingUrl"`
}

// JoinResponse is returned by the idempotent queue join.
type JoinResponse struct {
	SequenceNumber int64       `json:"sequenceNumber"`
	Status         QueueStatus `json:"status"`
	Message        string      `json:"message,omitempty"`
}

// QueueItem is the moderator-facing view of a queue entry. MeetingURL is
// non-null only once a meeting room has been assigned.
type QueueItem struct {
	ID             int64       `json:"id"`
	SequenceNumber int64       `json:"sequenceNumber"`
	SessionID      string      `json:"sessionId"`
	Status         QueueStatus `json:"status"`
	MeetingURL     *string     `json:"meetingUrl"`
	CreatedAt      time.Time   `json:"createdAt"`
	ServedAt       *time.Time  `json:"servedAt,omitempty"`
	FullName       string      `json:"fullName,omitempty"`
	IIN            string      `json:"iin,omitempty"`
	PhoneNumber    string      `json:"phoneNumber,omitempty"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalPages    int   `json:"totalPages"`
	TotalElements int64 `json:"totalElements"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
	Empty         bool  `json:"empty"`
}

// SortDirection for listing requests.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// QueueStats are the aggregate counters shown in the moderator console.
type QueueStats struct {
	Total     int64 `json:"total"`
	Waiting   int64 `json:"waiting"`
	InBuffer  int64 `json:"inBuffer"`
	Served    int64 `json:"served"`
	Cancelled int64 `json:"cancelled"`
}

// StatusChangeResponse echoes a single-item status mutation.
type StatusChangeResponse struct {
	Message   string      `json:"message"`
	OldStatus QueueStatus `json:"oldStatus"`
	NewStatus QueueStatus `json:"newStatus"`
	Queue     QueueItem   `json:"queue"`
}

// MeetingURLUpdateResponse echoes a meeting-url mutation.
type MeetingURLUpdateResponse struct {
	Message string    `json:"message"`
	OldURL  *string   `json:"oldUrl"`
	NewURL  string    `json:"newUrl"`
	Queue   QueueItem `json:"queue"`
}

// BulkStatusUpdateResponse reports the affected-rows count of a range update.
type BulkStatusUpdateResponse struct {
	Message      string      `json:"message"`
	UpdatedCount int64       `json:"updatedCount"`
	FromSeq      int64       `json:"fromSeq"`
	ToSeq        int64       `json:"toSeq"`
	NewStatus    QueueStatus `json:"newStatus"`
}

// DeleteQueueResponse echoes a cancelled entry.
type DeleteQueueResponse struct {
	Message string    `json:"message"`
	Queue   QueueItem `json:"queue"`
}

// SignUser is the identity resolved by a successful sign.
type SignUser struct {
	ID                      int64  `json:"id"`
	IIN                     string `json:"iin"`
	FullName                string `json:"fullName"`
	PlaceOfRegistrationCity string `json:"placeOfRegistrationCity,omitempty"`
	Role                    string `json:"role,omitempty"`
}

// PersonCertSubject is the subject block of the signing certificate.
type PersonCertSubject struct {
	ID         int64  `json:"id"`
	CommonName string `json:"commonName"`
	SurName    string `json:"surName"`
	IIN        string `json:"iin"`
	Country    string `json:"country,omitempty"`
	DN         string `json:"dn,omitempty"`
}

// PersonCertInfo describes the certificate used to sign.
type PersonCertInfo struct {
	ID        int64             `json:"id"`
	Valid     bool              `json:"valid"`
	Subject   PersonCertSubject `json:"subject"`
	NotBefore time.Time         `json:"notBefore"`
	NotAfter  time.Time         `json:"notAfter"`
}

// SignSession is the server-tracked record of a mobile sign attempt.
// Returned by both create_session and status.
type SignSession struct {
	ID             int64           `json:"id"`
	SessionUUID    string          `json:"sessionUuid"`
	Expiry         string          `json:"expiry,omitempty"`
	State          SignState       `json:"state"`
	User           *SignUser       `json:"user"`
	CreatedAt      time.Time       `json:"createdAt"`
	SignedData     []string        `json:"signedData,omitempty"`
	PersonCertInfo *PersonCertInfo `json:"personCertInfo,omitempty"`
}

// DisplayName resolves a human name for a sign session: the verified user
// record first, then the certificate subject.
func (s *SignSession) DisplayName() string {
	if s == nil {
		return ""
	}
	if s.User != nil && s.User.FullName != "" {
		return s.User.FullName
	}
	if s.PersonCertInfo != nil {
		sub := s.PersonCertInfo.Subject
		switch {
		case sub.SurName != "" && sub.CommonName != "":
			return sub.SurName + " " + sub.CommonName
		case sub.CommonName != "":
			return sub.CommonName
		case sub.SurName != "":
			return sub.SurName
		}
	}
	return ""
}

// SignInitResponse carries the direct sign URL for same-device flows.
type SignInitResponse struct {
	SessionID int64  `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	SignURL   string `json:"signUrl"`
	Status    string `json:"status"`
}

// SignCallbackPayload is posted by the signing app when signing finishes.
type SignCallbackPayload struct {
	SessionID      string `json:"sessionId"`
	Result         string `json:"result"`
	SignedDocument string `json:"signedDocument,omitempty"`
}

// SignCallbackResponse echoes the applied callback.
type SignCallbackResponse struct {
	SessionID      string `json:"sessionId"`
	Result         string `json:"result"`
	SignedDocument string `json:"signedDocument,omitempty"`
}

// CallbackResultSuccess and CallbackResultFailed are the accepted values of
// SignCallbackPayload.Result.
const (
	CallbackResultSuccess = "SUCCESS"
	CallbackResultFailed  = "FAILED"
)

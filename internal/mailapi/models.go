package mailapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
	FolderSpam  Folder = "spam"
	FolderTrash Folder = "trash"
)

// Folders is the fixed folder menu order.
var Folders = []Folder{FolderInbox, FolderSent, FolderSpam, FolderTrash}

func ParseFolder(value string) (Folder, error) {
	folder := Folder(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Folders {
		if folder == known {
			return folder, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFolder, value)
}

func (f Folder) Title() string {
	switch f {
	case FolderInbox:
		return "Inbox"
	case FolderSent:
		return "Sent"
	case FolderSpam:
		return "Spam"
	case FolderTrash:
		return "Trash"
	default:
		return string(f)
	}
}

func (f Folder) Path() string {
	return "/" + string(f)
}

// ReadLimitOptions are the read limits a sender may pick for a
// self-destructing message. Zero means unlimited.
var ReadLimitOptions = []int{1, 2, 3, 5, 10}

// SelfDestructTTL is how long the remote service keeps a self-destructing
// message regardless of reads.
const SelfDestructTTL = 24 * time.Hour

// ReadLimitHeader carries a message's read limit in RFC 5322 form, both on
// submitted mail and on exported .eml files.
const ReadLimitHeader = "X-Read-Limit"

func ValidReadLimit(limit int) bool {
	if limit == 0 {
		return true
	}
	for _, option := range ReadLimitOptions {
		if limit == option {
			return true
		}
	}
	return false
}

// ParseReadLimit parses one of ReadLimitOptions from form or header input.
func ParseReadLimit(value string) (int, error) {
	limit, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || limit == 0 || !ValidReadLimit(limit) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReadLimit, value)
	}
	return limit, nil
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Message struct {
	ID            string
	SenderEmail   string
	SenderName    string
	ReceiverEmail string
	Subject       string
	Body          string
	SentAt        time.Time
	ExpiresAt     time.Time
	Starred       bool
	Read          bool
	ReadLimit     int
	ReadCount     int
	Label         string
	Attachments   []Attachment
}

func (m Message) SelfDestructing() bool {
	return m.ReadLimit > 0
}

// Party is the address shown in a folder row: the sender, or the receiver
// for messages the user sent.
func (m Message) Party() string {
	if m.SenderEmail != "" {
		return m.SenderEmail
	}
	return m.ReceiverEmail
}

func (m Message) From() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderEmail
}

// ReadsLeft reports remaining reads for a self-destructing message when the
// service reports a read count.
func (m Message) ReadsLeft() int {
	if !m.SelfDestructing() {
		return 0
	}
	left := m.ReadLimit - m.ReadCount
	if left < 0 {
		return 0
	}
	return left
}

type party struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// wireMessage accepts both the flat and the nested message shapes.
type wireMessage struct {
	ID            json.RawMessage `json:"id"`
	SenderEmail   string          `json:"sender_email"`
	SenderName    string          `json:"sender_name"`
	ReceiverEmail string          `json:"receiver_email"`
	Sender        *party          `json:"sender"`
	Receiver      *party          `json:"receiver"`
	Subject       string          `json:"subject"`
	Body          string          `json:"body"`
	Read          *bool           `json:"read"`
	IsRead        bool            `json:"is_read"`
	IsStarred     bool            `json:"is_starred"`
	ReadLimit     int             `json:"read_limit"`
	ReadCount     int             `json:"read_count"`
	Label         string          `json:"label"`
	CreatedAt     time.Time       `json:"created_at"`
	SentAt        time.Time       `json:"sent_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Attachments   []Attachment    `json:"attachments"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = Message{
		ID:            rawID(wire.ID),
		SenderEmail:   wire.SenderEmail,
		SenderName:    wire.SenderName,
		ReceiverEmail: wire.ReceiverEmail,
		Subject:       wire.Subject,
		Body:          wire.Body,
		SentAt:        wire.CreatedAt,
		ExpiresAt:     wire.ExpiresAt,
		Starred:       wire.IsStarred,
		Read:          wire.IsRead,
		ReadLimit:     wire.ReadLimit,
		ReadCount:     wire.ReadCount,
		Label:         wire.Label,
		Attachments:   wire.Attachments,
	}
	if wire.Read != nil {
		m.Read = *wire.Read
	}
	if m.SentAt.IsZero() {
		m.SentAt = wire.SentAt
	}
	if wire.Sender != nil {
		if m.SenderEmail == "" {
			m.SenderEmail = wire.Sender.Email
		}
		if m.SenderName == "" {
			m.SenderName = wire.Sender.Name
		}
	}
	if wire.Receiver != nil && m.ReceiverEmail == "" {
		m.ReceiverEmail = wire.Receiver.Email
	}
	return nil
}

func rawID(raw json.RawMessage) string {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return ""
	}
	if unquoted, err := strconv.Unquote(value); err == nil {
		return unquoted
	}
	return value
}

// Destroyed is returned instead of a message when the read that was just
// made was the last one permitted.
type Destroyed struct {
	Subject string `json:"subject"`
	Notice  string `json:"message"`
}

type User struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type SendRequest struct {
	ReceiverEmail string `json:"receiver_email"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	ReadLimit     int    `json:"read_limit"`
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.ReceiverEmail) == "" {
		return fmt.Errorf("receiver email is required")
	}
	if strings.TrimSpace(r.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("body is required")
	}
	if !ValidReadLimit(r.ReadLimit) {
		return fmt.Errorf("%w: %d", ErrInvalidReadLimit, r.ReadLimit)
	}
	return nil
}

type LoadState int

const (
	Loaded LoadState = iota
	Empty
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Empty:
		return "empty"
	default:
		return "failed"
	}
}

// FolderResult is the outcome of a folder read. Messages is never nil; on
// failure it is empty and Err holds the cause.
type FolderResult struct {
	Folder   Folder
	Messages []Message
	Err      error
}

func (r FolderResult) State() LoadState {
	switch {
	case r.Err != nil:
		return Failed
	case len(r.Messages) == 0:
		return Empty
	default:
		return Loaded
	}
}

// MessageResult is the outcome of a single message read. Message is nil when
// the read failed or the message no longer exists.
type MessageResult struct {
	Message   *Message
	Destroyed *Destroyed
	Err       error
}

func (r MessageResult) Found() bool {
	return r.Message != nil
}

package studyguide

import (
	"errors"
	"slices"
)

// Phase of the analysis stream as seen by the session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	AnalysisFailedNotice = "We couldn't analyse this paper right now. Please try again."
	ChatFailedNotice     = "The tutor couldn't answer right now. Please try again."
)

var (
	ErrStreamBusy     = errors.New("a stream is already in progress")
	ErrStaleStream    = errors.New("stream does not belong to the current session")
	ErrNoResult       = errors.New("no analysis result to discuss")
	ErrEntryNotFound  = errors.New("history entry not found")
	ErrNoChatInFlight = errors.New("no chat response in progress")
	ErrEmptyQuestion  = errors.New("question is empty")
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the whole state of one analysis-and-chat interaction. Every
// transition is a value method returning the next state, so a rejected
// transition leaves the receiver untouched.
type Session struct {
	Phase         Phase           `json:"phase"`
	AnalysisID    string          `json:"analysisId,omitempty"`
	DisplayedID   string          `json:"displayedId,omitempty"`
	Result        *AnalysisResult `json:"result"`
	Streaming     bool            `json:"streaming"`
	ChatStreaming bool            `json:"chatStreaming"`
	Chat          []ChatMessage   `json:"chat"`
	History       []HistoryEntry  `json:"history"`
	Notice        string          `json:"notice,omitempty"`
}

func NewSession() Session {
	return Session{
		Phase:   PhaseIdle,
		Chat:    []ChatMessage{},
		History: []HistoryEntry{},
	}
}

// StartAnalysis begins a new stream with an empty result.
func (s Session) StartAnalysis(analysisID string) (Session, error) {
	if s.Streaming || s.ChatStreaming {
		return s, ErrStreamBusy
	}
	empty := NewAnalysisResult()
	next := s.copy()
	next.Phase = PhaseStreaming
	next.AnalysisID = analysisID
	next.DisplayedID = ""
	next.Result = &empty
	next.Streaming = true
	next.Chat = []ChatMessage{}
	next.Notice = ""
	return next, nil
}

// ChunkReceived replaces the displayed result with a newer snapshot.
func (s Session) ChunkReceived(analysisID string, snapshot AnalysisResult) (Session, error) {
	if !s.owns(analysisID) {
		return s, ErrStaleStream
	}
	next := s.copy()
	r := snapshot.Clone()
	next.Result = &r
	return next, nil
}

// StreamComplete makes the final snapshot authoritative and archives it.
func (s Session) StreamComplete(analysisID string, entry HistoryEntry) (Session, error) {
	if !s.owns(analysisID) {
		return s, ErrStaleStream
	}
	next := s.copy()
	final := entry.AnalysisResult.Clone()
	entry.AnalysisResult = final.Clone()
	next.Phase = PhaseComplete
	next.Streaming = false
	next.Result = &final
	next.DisplayedID = entry.ID
	next.History = append([]HistoryEntry{entry}, next.History...)
	return next, nil
}

// StreamFailed drops whatever was reconstructed and shows the generic notice.
func (s Session) StreamFailed(analysisID string) (Session, error) {
	if !s.owns(analysisID) {
		return s, ErrStaleStream
	}
	next := s.copy()
	next.Phase = PhaseFailed
	next.Streaming = false
	next.Result = nil
	next.DisplayedID = ""
	next.Notice = AnalysisFailedNotice
	return next, nil
}

// Reset starts over, abandoning any in-flight stream. History is kept.
func (s Session) Reset() Session {
	next := NewSession()
	next.History = slices.Clone(s.History)
	if next.History == nil {
		next.History = []HistoryEntry{}
	}
	return next
}

// RestoreFromHistory displays an archived result.
func (s Session) RestoreFromHistory(entryID string) (Session, error) {
	if s.Streaming || s.ChatStreaming {
		return s, ErrStreamBusy
	}
	idx := s.historyIndex(entryID)
	if idx < 0 {
		return s, ErrEntryNotFound
	}
	next := s.copy()
	r := s.History[idx].AnalysisResult.Clone()
	next.Phase = PhaseComplete
	next.AnalysisID = ""
	next.DisplayedID = entryID
	next.Result = &r
	next.Chat = []ChatMessage{}
	next.Notice = ""
	return next, nil
}

// DeleteHistoryEntry removes an entry; deleting the displayed entry clears the view.
func (s Session) DeleteHistoryEntry(entryID string) (Session, error) {
	idx := s.historyIndex(entryID)
	if idx < 0 {
		return s, ErrEntryNotFound
	}
	next := s.copy()
	next.History = slices.Delete(next.History, idx, idx+1)
	if s.DisplayedID == entryID && !s.Streaming {
		next.Phase = PhaseIdle
		next.DisplayedID = ""
		next.Result = nil
		next.Chat = []ChatMessage{}
		next.ChatStreaming = false
	}
	return next, nil
}

// ChatStarted records the user's question and an empty assistant reply to stream into.
func (s Session) ChatStarted(question string) (Session, error) {
	if question == "" {
		return s, ErrEmptyQuestion
	}
	if s.Result == nil || s.Phase != PhaseComplete {
		return s, ErrNoResult
	}
	if s.Streaming || s.ChatStreaming {
		return s, ErrStreamBusy
	}
	next := s.copy()
	next.ChatStreaming = true
	next.Notice = ""
	next.Chat = append(next.Chat,
		ChatMessage{Role: RoleUser, Content: question},
		ChatMessage{Role: RoleAssistant},
	)
	return next, nil
}

func (s Session) ChatChunkReceived(delta string) (Session, error) {
	if !s.ChatStreaming || len(s.Chat) == 0 {
		return s, ErrNoChatInFlight
	}
	next := s.copy()
	next.Chat[len(next.Chat)-1].Content += delta
	return next, nil
}

func (s Session) ChatComplete() (Session, error) {
	if !s.ChatStreaming {
		return s, ErrNoChatInFlight
	}
	next := s.copy()
	next.ChatStreaming = false
	return next, nil
}

// ChatFailed discards the partial reply and shows the chat notice.
func (s Session) ChatFailed() (Session, error) {
	if !s.ChatStreaming {
		return s, ErrNoChatInFlight
	}
	next := s.copy()
	next.ChatStreaming = false
	if n := len(next.Chat); n > 0 && next.Chat[n-1].Role == RoleAssistant {
		next.Chat = next.Chat[:n-1]
	}
	next.Notice = ChatFailedNotice
	return next, nil
}

// Transcript returns the chat without a trailing in-flight reply.
func (s Session) Transcript() []ChatMessage {
	msgs := slices.Clone(s.Chat)
	if s.ChatStreaming && len(msgs) > 0 && msgs[len(msgs)-1].Role == RoleAssistant {
		msgs = msgs[:len(msgs)-1]
	}
	return msgs
}

func (s Session) owns(analysisID string) bool {
	return s.Streaming && analysisID != "" && s.AnalysisID == analysisID
}

func (s Session) historyIndex(entryID string) int {
	return slices.IndexFunc(s.History, func(e HistoryEntry) bool { return e.ID == entryID })
}

func (s Session) copy() Session {
	next := s
	next.Chat = slices.Clone(s.Chat)
	if next.Chat == nil {
		next.Chat = []ChatMessage{}
	}
	next.History = slices.Clone(s.History)
	if next.History == nil {
		next.History = []HistoryEntry{}
	}
	return next
}

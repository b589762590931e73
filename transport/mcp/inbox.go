package mcp

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is an inbound envelope retained by the Inbox.
type Message struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Inbox is a thread-safe circular buffer of the most recent messages. When
// it is full the oldest message is discarded.
type Inbox struct {
	items    []Message
	start    int
	count    int
	capacity int
	mu       sync.RWMutex
}

// NewInbox creates an Inbox holding up to capacity messages. A capacity
// below 1 defaults to 1.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &Inbox{
		items:    make([]Message, capacity),
		capacity: capacity,
	}
}

// Add appends m, evicting the oldest message when full.
func (in *Inbox) Add(m Message) {
	in.mu.Lock()
	defer in.mu.Unlock()

	end := (in.start + in.count) % in.capacity
	in.items[end] = m
	if in.count < in.capacity {
		in.count++
	} else {
		in.start = (in.start + 1) % in.capacity
	}
}

// Recent returns up to limit of the newest messages, oldest first. An empty
// msgType matches every type; limit <= 0 means no limit.
func (in *Inbox) Recent(msgType string, limit int) []Message {
	in.mu.RLock()
	defer in.mu.RUnlock()

	var result []Message
	for i := in.count - 1; i >= 0; i-- {
		m := in.items[(in.start+i)%in.capacity]
		if msgType != "" && m.Type != msgType {
			continue
		}
		result = append(result, m)
		if limit > 0 && len(result) == limit {
			break
		}
	}

	// Collected newest first
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Clear removes all messages.
func (in *Inbox) Clear() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.start = 0
	in.count = 0
	in.items = make([]Message, in.capacity)
}

// Len returns the number of retained messages.
func (in *Inbox) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.count
}

// Cap returns the capacity of the inbox.
func (in *Inbox) Cap() int {
	return in.capacity
}

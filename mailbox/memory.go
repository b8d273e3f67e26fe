package mailbox

import (
	"strconv"
	"sync"
)

// Memory is the in-memory Backend: mailbox address -> ordered message
// bodies, UID is the stringified insertion index.
type Memory struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{messages: make(map[string][][]byte)}
}

func (m *Memory) Append(mailbox string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(body))
	copy(cp, body)

	idx := len(m.messages[mailbox])
	m.messages[mailbox] = append(m.messages[mailbox], cp)
	return strconv.Itoa(idx), nil
}

func (m *Memory) ListUIDs(mailbox string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[mailbox]
	uids := make([]string, len(msgs))
	for i := range msgs {
		uids[i] = strconv.Itoa(i)
	}
	return uids
}

func (m *Memory) Get(mailbox, uid string) ([]byte, bool) {
	idx, err := strconv.Atoi(uid)
	if err != nil || idx < 0 {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.messages[mailbox]
	if idx >= len(msgs) {
		return nil, false
	}
	return msgs[idx], true
}

var _ Backend = (*Memory)(nil)

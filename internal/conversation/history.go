package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// TimestampLayout is the date suffix of history filenames.
const TimestampLayout = "January_02_2006_15-04-05"

const (
	titleWindow   = 25
	titleFallback = 15
	titleStrip    = `<>:"/\|?*!`
)

// ErrNotFound is returned when a history record does not exist.
var ErrNotFound = errors.New("conversation record not found")

// History stores conversations as JSON arrays of messages, one file per
// conversation, under Dir.
type History struct {
	Dir string
}

// Record describes a saved conversation.
type Record struct {
	Name    string    `json:"name"`
	Title   string    `json:"title"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// Title derives the short human title from the first message: the first
// 25 characters minus their last word, or the first 15 characters when
// fewer than two words are present. Filename-hostile characters are removed.
func Title(msgs []types.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	content := prefix(msgs[0].Content, titleWindow)
	words := strings.Fields(content)

	var title string
	if len(words) >= 2 {
		title = strings.Join(words[:len(words)-1], "_")
	} else {
		title = prefix(content, titleFallback)
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(titleStrip, r) {
			return -1
		}
		return r
	}, title)
}

// Filename returns "<title>__<Month_DD_YYYY_HH-MM-SS>.json".
func Filename(msgs []types.Message, now time.Time) string {
	return fmt.Sprintf("%s__%s.json", Title(msgs), now.Format(TimestampLayout))
}

// Save writes msgs to name, creating Dir when missing.
func (h History) Save(name string, msgs []types.Message) error {
	if name == "" {
		return fmt.Errorf("save conversation: empty name")
	}
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	path := filepath.Join(h.Dir, filepath.Base(name))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit conversation: %w", err)
	}
	return nil
}

// Load reads and validates a saved conversation.
func (h History) Load(name string) ([]types.Message, error) {
	data, err := os.ReadFile(filepath.Join(h.Dir, filepath.Base(name)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	var msgs []types.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", name, err)
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("message %d of %s: %w", i, name, err)
		}
	}
	return msgs, nil
}

// List returns saved conversations, newest first. A missing Dir yields an
// empty list.
func (h History) List() ([]Record, error) {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list history: %w", err)
	}

	var out []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		title, _, _ := strings.Cut(strings.TrimSuffix(e.Name(), ".json"), "__")
		out = append(out, Record{
			Name:    e.Name(),
			Title:   title,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Name > out[j].Name
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// State is the persisted queue document and the snapshot handed to callers.
type State struct {
	Queue   []Item `json:"queue"`
	History []Item `json:"history"`
}

type stateObject State

// UnmarshalJSON accepts the current {"queue","history"} object and the older
// flat array, which is split by status.
func (s *State) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = State{}
		return nil
	}
	switch b[0] {
	case '{':
		var obj stateObject
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*s = State(obj)
		return nil
	case '[':
		var flat []Item
		if err := json.Unmarshal(b, &flat); err != nil {
			return err
		}
		*s = partition(flat)
		return nil
	default:
		return fmt.Errorf("queue document: unexpected JSON starting with %q", b[0])
	}
}

// partition splits a flat item list into an active queue ordered by rank and
// a history ordered newest first.
func partition(items []Item) State {
	var st State
	for _, it := range items {
		if it.Status.Terminal() {
			st.History = append(st.History, it)
		} else {
			st.Queue = append(st.Queue, it)
		}
	}
	sortByRank(st.Queue)
	sort.SliceStable(st.History, func(i, j int) bool {
		return st.History[i].finishedAt().After(st.History[j].finishedAt())
	})
	return st
}

func sortByRank(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

// normalize prepares a loaded document: interrupted items run again, items
// with an unrecognised status become errors, missing ids and ranks are
// filled in and history is capped. It returns the highest rank in use and
// the ids of the relabelled items.
func (s *State) normalize(historyCap int) (int64, []string) {
	var relabelled []string
	for _, items := range [][]Item{s.Queue, s.History} {
		for i := range items {
			if items[i].Status.Known() {
				continue
			}
			items[i].Error = strings.TrimSpace(fmt.Sprintf("unrecognized status %q %s", string(items[i].Status), items[i].Error))
			items[i].Status = StatusError
			relabelled = append(relabelled, items[i].ID)
		}
	}

	var maxOrder int64
	for _, it := range s.Queue {
		maxOrder = max(maxOrder, it.Order)
	}
	for _, it := range s.History {
		maxOrder = max(maxOrder, it.Order)
	}
	var kept []Item
	for _, it := range s.Queue {
		if it.Status.Terminal() {
			s.History = append([]Item{it}, s.History...)
			continue
		}
		if it.Status == StatusProcessing || it.Status == "" {
			it.Status = StatusPending
			it.StartedAt = nil
		}
		if it.ID == "" {
			it.ID = newID()
		}
		if it.Order <= 0 {
			maxOrder++
			it.Order = maxOrder
		}
		kept = append(kept, it)
	}
	s.Queue = kept
	sortByRank(s.Queue)
	for i := range s.History {
		if s.History[i].ID == "" {
			s.History[i].ID = newID()
		}
	}
	if historyCap > 0 && len(s.History) > historyCap {
		s.History = s.History[:historyCap]
	}
	return maxOrder, relabelled
}

func (s State) pending() int {
	n := 0
	for _, it := range s.Queue {
		if it.Status == StatusPending {
			n++
		}
	}
	return n
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return append([]Item(nil), items...)
}

package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Observation is one mounted message node as seen in a single sample.
type Observation struct {
	NativeID    string `json:"nativeId"`
	Author      string `json:"author"`
	Timestamp   string `json:"timestamp"`
	Text        string `json:"text"`
	HTML        string `json:"html"`
	ContextHTML string `json:"contextHtml"`
	ThreadID    string `json:"threadId"`
	Subject     string `json:"subject"`
	Slot        int    `json:"slot"`
}

// topAnchor stands for "nothing above": the node opens the history.
const topAnchor = "^"

// signature is the content identity of one node: its native id, or a
// hash of author, timestamp and text.
func signature(o Observation) (sig string, native bool) {
	if id := strings.TrimSpace(o.NativeID); id != "" {
		return "id:" + id, true
	}
	return "c:" + digest(o.Author, o.Timestamp, o.Text), false
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Identify assigns identity keys to one sample's observations, given in
// document order.
//
// A node with a native id is keyed "id:<id>". A node without one is keyed
// by its content hash, the signature of the nearest preceding node with
// different content (its anchor), and its rank in the run of
// equal-content nodes since that anchor. Two "ok" replies in a row thus
// get distinct keys, and none of the inputs depend on where the mounted
// window starts.
//
// A node whose anchor is not mounted gets "" and must be observed again
// once the view has moved. atTop says the sample reaches the start of the
// history, so a missing anchor means there is none.
func Identify(items []Observation, atTop bool) []string {
	keys := make([]string, len(items))
	anchor := ""
	if atTop {
		anchor = topAnchor
	}
	prev, run := "", 0
	used := make(map[string]int, len(items))
	for i, o := range items {
		sig, native := signature(o)
		if i > 0 {
			if sig == prev {
				run++
			} else {
				anchor, run = prev, 0
			}
		}
		prev = sig
		switch {
		case native:
			keys[i] = sig
		case anchor == "":
			continue
		default:
			keys[i] = "c:" + digest(sig, anchor, strconv.Itoa(run))
		}
		// Same content, same anchor content, same rank (A ok A ok): keep
		// both rather than drop one.
		if n := used[keys[i]]; n > 0 && !native {
			used[keys[i]]++
			keys[i] += "~" + strconv.Itoa(n+1)
			continue
		}
		used[keys[i]]++
	}
	return keys
}

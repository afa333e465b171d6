// Package chat answers free-text farmer questions with canned disease advice,
// deferring to an LLM when no disease name matches.
package chat

import (
	"context"
	"strings"
	"unicode"

	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/logger"
)

// LLM answers questions the rule table cannot.
type LLM interface {
	Complete(ctx context.Context, question string) (string, error)
}

// FailurePrefix starts the reply when the LLM call fails.
const FailurePrefix = "OpenAI call failed: "

// Responder matches questions against the catalog chat table.
type Responder struct {
	table catalog.ChatTable
	llm   LLM
}

// NewResponder returns a responder over table. llm may be nil.
func NewResponder(table catalog.ChatTable, llm LLM) *Responder {
	return &Responder{table: table, llm: llm}
}

// Reply returns the answer for question. It never fails; LLM errors are
// reported in the reply text.
func (r *Responder) Reply(ctx context.Context, question string) string {
	if reply, ok := r.Match(question); ok {
		return reply
	}

	if r.llm == nil {
		return r.table.Fallback
	}

	answer, err := r.llm.Complete(ctx, question)
	if err != nil {
		GetLogger().Warn("llm call failed", logger.Error(err))
		return FailurePrefix + err.Error()
	}
	return answer
}

// Match applies the rule table only. Keys are tried in order, first against
// the question with all whitespace removed, then by any of their words.
func (r *Responder) Match(question string) (string, bool) {
	q := strings.ToLower(question)
	compact := stripSpace(q)

	for _, rec := range r.table.Replies {
		if strings.Contains(compact, rec.Key) {
			return format(rec), true
		}
	}
	for _, rec := range r.table.Replies {
		for _, part := range strings.Fields(rec.Key) {
			if strings.Contains(q, part) {
				return format(rec), true
			}
		}
	}
	return "", false
}

func format(rec catalog.ChatReply) string {
	return "**" + rec.Key + "**: " + rec.Reply
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

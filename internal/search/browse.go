package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
)

const queryPrompt = `If I ask you "%s", and you didn't know the answer but had access to google, what would you search for? The search query needs to be designed to give you as much detail as possible.

Answer with x only, where x is the google search string that would let you help me answer the question.
I want you to only reply with the output inside and nothing else. Do not write explanations or anything else.

Query:`

const answerPrompt = `Pretend I was able to run a google search for "%s" instead of you and I got the following results:
"""
%s
"""
Provide an answer to the following, cleanly formatted:

%s`

// Browse answers question with fresh search results. It asks chat for a
// search query, runs it, then asks chat to answer from the results.
func Browse(ctx context.Context, chat backend.Chat, s Searcher, question string, liveness backend.Liveness) (string, error) {
	liveness.Ping(ctx)
	reply, err := chat.Send(ctx, fmt.Sprintf(queryPrompt, question), liveness)
	if err != nil {
		return "", fmt.Errorf("search: ask for query: %w", err)
	}
	query := CleanQuery(reply)
	if query == "" {
		query = question
	}

	liveness.Ping(ctx)
	results, err := s.Search(ctx, query)
	if err != nil {
		return "", err
	}

	answer, err := chat.Send(ctx, fmt.Sprintf(answerPrompt, question, results, question), liveness)
	if err != nil {
		return "", fmt.Errorf("search: answer: %w", err)
	}
	return answer, nil
}

// CleanQuery strips the decoration models tend to wrap a search query in.
func CleanQuery(reply string) string {
	q := strings.TrimSpace(reply)
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		q = q[:i]
	}
	lower := strings.ToLower(q)
	for _, prefix := range []string{"query:", "search query:"} {
		if strings.HasPrefix(lower, prefix) {
			q = q[len(prefix):]
			break
		}
	}
	return strings.Trim(strings.TrimSpace(q), "\"'`")
}

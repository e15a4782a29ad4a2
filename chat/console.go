package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/teranos/ytmp3/errors"
)

// ConsoleReplier prints replies to a terminal
type ConsoleReplier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleReplier creates a replier writing to w
func NewConsoleReplier(w io.Writer) *ConsoleReplier {
	return &ConsoleReplier{w: w}
}

// Reply prints text tagged with the requester
func (c *ConsoleReplier) Reply(ctx context.Context, requester, text string) error {
	var line string
	if strings.HasPrefix(text, errorReplyPrefix) {
		line = pterm.Error.Sprintfln("[%s] %s", requester, strings.TrimPrefix(text, errorReplyPrefix))
	} else {
		line = pterm.Success.Sprintfln("[%s] %s", requester, text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, line); err != nil {
		return errors.Wrap(err, "write reply")
	}
	return nil
}

// RunConsole feeds each line of r to the bot. Every line gets its own
// requester id so concurrent requests for one video each get a reply.
func RunConsole(ctx context.Context, bot *Bot, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n++
		requester := fmt.Sprintf("console-%d", n)
		if !bot.Handle(ctx, requester, line) {
			bot.reply(ctx, requester, errorReplyPrefix+fmt.Sprintf("unknown command, try %smp3 <youtube url>", bot.prefix))
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read commands")
	}
	return nil
}

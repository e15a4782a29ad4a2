package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/client"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/pulse/watch"
)

// Reply texts
const (
	ReplyInvalidURL  = "Error: Invalid YouTube URL"
	ReplyUsage       = "Usage: %smp3 <youtube url>"
	ServerErrorText  = "Server error"
	missingLocator   = "Oops something went wrong"
	errorReplyPrefix = "Error: "
)

// Submitter admits a key. Satisfied by *client.Client.
type Submitter interface {
	Submit(ctx context.Context, key string) (*async.Job, error)
}

// Replier delivers text back to the requester that issued a command
type Replier interface {
	Reply(ctx context.Context, requester, text string) error
}

// Bot handles chat commands
type Bot struct {
	prefix    string
	submitter Submitter
	watch     *watch.Multiplexer
	replier   Replier
	logger    *zap.SugaredLogger

	wg sync.WaitGroup
}

// NewBot creates a bot answering commands that start with prefix
func NewBot(prefix string, submitter Submitter, mux *watch.Multiplexer, replier Replier, log *zap.SugaredLogger) *Bot {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bot{
		prefix:    prefix,
		submitter: submitter,
		watch:     mux,
		replier:   replier,
		logger:    logger.AddChatSymbol(log.Named("chat")),
	}
}

// Handle processes one chat line from requester. Returns false when the
// line is not a bot command.
func (b *Bot) Handle(ctx context.Context, requester, line string) bool {
	cmd, ok, err := ParseCommand(line, b.prefix)
	if !ok {
		return false
	}
	if err != nil {
		b.reply(ctx, requester, errorReplyPrefix+err.Error())
		return true
	}
	switch cmd.Name {
	case "mp3", "download":
	default:
		return false
	}
	if len(cmd.Args) == 0 {
		b.replyf(ctx, requester, ReplyUsage, b.prefix)
		return true
	}

	key := ExtractVideoID(cmd.Args[0])
	if key == "" {
		b.reply(ctx, requester, ReplyInvalidURL)
		return true
	}
	log := b.logger.With(logger.FieldKey, key, logger.FieldRequester, requester)

	job, err := b.submitter.Submit(ctx, key)
	if err != nil {
		log.Infow("Submission rejected", logger.FieldError, err)
		b.reply(ctx, requester, errorReplyPrefix+describe(err))
		return true
	}
	if job.IsTerminal() {
		b.reply(ctx, requester, renderJob(job))
		return true
	}

	results, err := b.watch.Watch(key, requester)
	if err != nil {
		log.Warnw("Could not wait for job", logger.FieldError, err)
		b.reply(ctx, requester, errorReplyPrefix+ServerErrorText)
		return true
	}
	log.Infow("Waiting for job", logger.FieldStatus, job.Status)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res, ok := <-results
		if !ok {
			// Cancelled or shutting down
			return
		}
		b.reply(context.WithoutCancel(ctx), requester, renderResult(res))
	}()
	return true
}

// Wait blocks until every pending reply has been sent or abandoned.
// Stop the multiplexer first so pending waits end.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) reply(ctx context.Context, requester, text string) {
	if err := b.replier.Reply(ctx, requester, text); err != nil {
		b.logger.Warnw("Reply failed", logger.FieldRequester, requester, logger.FieldError, err)
	}
}

func (b *Bot) replyf(ctx context.Context, requester, format string, args ...interface{}) {
	b.reply(ctx, requester, fmt.Sprintf(format, args...))
}

func renderResult(res watch.Result) string {
	if res.Err != nil {
		return errorReplyPrefix + describe(res.Err)
	}
	return renderJob(res.Job)
}

func renderJob(job *async.Job) string {
	switch job.Status {
	case async.JobStatusComplete:
		if job.ArtifactRef == "" {
			return missingLocator
		}
		return job.ArtifactRef
	case async.JobStatusFailed:
		return errorReplyPrefix + job.Error
	default:
		return string(job.Status)
	}
}

// describe reduces an API failure to the text shown to chat users
func describe(err error) string {
	if ae, ok := client.AsAPIError(err); ok && ae.StatusCode < 500 {
		return ae.Message
	}
	return ServerErrorText
}

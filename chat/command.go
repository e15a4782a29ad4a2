// Package chat is the chat front end: it turns "!mp3 <url>" commands into
// submissions and replies to every requester once the job settles.
package chat

import (
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/ytmp3/errors"
)

// Command is a parsed chat command
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses line as prefix+name followed by shell-quoted args.
// ok is false when line is not addressed to the bot.
func ParseCommand(line, prefix string) (cmd Command, ok bool, err error) {
	line = strings.TrimSpace(line)
	if prefix == "" || !strings.HasPrefix(line, prefix) {
		return Command{}, false, nil
	}

	words, err := shellquote.Split(strings.TrimPrefix(line, prefix))
	if err != nil {
		return Command{}, true, errors.Mark(errors.Wrap(err, "unparseable command"), errors.ErrInvalidRequest)
	}
	if len(words) == 0 || words[0] == "" {
		return Command{}, false, nil
	}
	return Command{Name: strings.ToLower(words[0]), Args: words[1:]}, true, nil
}

// youtubeURL matches youtu.be/<id>, watch?v=<id>, embed/<id> and v/<id> forms.
var youtubeURL = regexp.MustCompile(`(?:https?://)?(?:www\.)?youtu\.?be(?:\.com)?/?.*(?:watch|embed)?(?:.*v=|v/|/)([\w\-]+)&?`)

// ExtractVideoID returns the video id in a YouTube URL, or "" when none is found.
func ExtractVideoID(url string) string {
	m := youtubeURL.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

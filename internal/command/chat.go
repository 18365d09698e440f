package command

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChatMessage is a chat line from the server output that embeds a command
type ChatMessage struct {
	User    string // lowercased
	Message string
	Command string // text starting at the marker
}

// ParseChat extracts the sender and embedded command from a server output
// line shaped like "[time] [thread/INFO]: <username> message". The sender
// token must open the chat message: either the line starts with it or it
// directly follows the log prefix's "]: " (an unsigned-chat "[Not Secure] "
// tag is allowed in between). A "<name>" anywhere later, as in an emote
// "* eve <alice> !bu", is message text and never a sender. The command starts
// at the first marker that begins a word and is directly followed by a
// letter, so ordinary punctuation ("hello! there") is not mistaken for a
// command.
func ParseChat(line, marker string) (ChatMessage, bool) {
	if marker == "" {
		return ChatMessage{}, false
	}

	rest, ok := chatBody(line)
	if !ok {
		return ChatMessage{}, false
	}
	closeIdx := strings.IndexByte(rest, '>')
	if closeIdx < 0 {
		return ChatMessage{}, false
	}

	user := strings.ToLower(strings.TrimSpace(rest[1:closeIdx]))
	if user == "" || strings.ContainsAny(user, " \t<") {
		return ChatMessage{}, false
	}

	message := strings.TrimSpace(rest[closeIdx+1:])
	start := commandStart(message, marker)
	if start < 0 {
		return ChatMessage{}, false
	}

	return ChatMessage{
		User:    user,
		Message: message,
		Command: strings.TrimSpace(message[start:]),
	}, true
}

const unsignedChatTag = "[Not Secure] "

// chatBody returns the line from the sender's "<" on, if the line is chat
func chatBody(line string) (string, bool) {
	rest := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(rest, "<") {
		idx := strings.Index(rest, "]: ")
		if idx < 0 {
			return "", false
		}
		rest = strings.TrimPrefix(rest[idx+len("]: "):], unsignedChatTag)
	}
	if !strings.HasPrefix(rest, "<") {
		return "", false
	}
	return rest, true
}

func commandStart(message, marker string) int {
	offset := 0
	for {
		idx := strings.Index(message[offset:], marker)
		if idx < 0 {
			return -1
		}
		idx += offset

		atWordStart := idx == 0
		if !atWordStart {
			prev, _ := utf8.DecodeLastRuneInString(message[:idx])
			atWordStart = unicode.IsSpace(prev)
		}
		next, _ := utf8.DecodeRuneInString(message[idx+len(marker):])
		if atWordStart && unicode.IsLetter(next) {
			return idx
		}
		offset = idx + len(marker)
	}
}

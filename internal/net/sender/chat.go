package sender

// ChatWidth is the number of characters a chat packet carries.
const ChatWidth = 64

// continuation prefixes every segment after the first.
const continuation = "> "

// ChatSegment is one chat packet: the continuation prefix (empty on the
// first segment) followed by a slice of the original message.
type ChatSegment struct {
	Prefix string
	Body   string
}

// Text is the segment as sent.
func (c ChatSegment) Text() string { return c.Prefix + c.Body }

// SplitChat breaks message into segments of at most ChatWidth characters.
// A segment ends at the last space that still fits, or is cut hard when there
// is none. Continuations carry "> " and the colour code in effect where the
// previous segment stopped, and a colour escape is never split from its
// code. Concatenating the bodies gives back message.
func SplitChat(message string) []ChatSegment {
	body := []rune(message)
	var out []ChatSegment
	prefix := ""
	for {
		room := ChatWidth - len([]rune(prefix))
		if len(body) <= room {
			return append(out, ChatSegment{Prefix: prefix, Body: string(body)})
		}
		cut := splitPoint(body, room)
		segment := ChatSegment{Prefix: prefix, Body: string(body[:cut])}
		out = append(out, segment)
		body = body[cut:]
		prefix = continuation + lastColour(segment.Text())
	}
}

func splitPoint(body []rune, room int) int {
	cut := 0
	for i := room; i >= 1; i-- {
		if body[i] == ' ' {
			cut = i
			break
		}
	}
	if cut == 0 {
		cut = room
	}
	cut = trimAmpersands(body, cut)
	if cut >= 2 && body[cut-2] == '&' {
		cut = trimAmpersands(body, cut-2)
	}
	if cut == 0 {
		cut = room
	}
	return cut
}

// trimAmpersands moves cut back over a trailing run of '&'.
func trimAmpersands(body []rune, cut int) int {
	for cut > 0 && body[cut-1] == '&' {
		cut--
	}
	return cut
}

// lastColour returns the last complete "&x" escape in s, or "".
func lastColour(s string) string {
	runes := []rune(s)
	for i := len(runes) - 2; i >= 0; i-- {
		if runes[i] == '&' {
			return string(runes[i : i+2])
		}
	}
	return ""
}
